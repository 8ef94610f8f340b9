// Package anki writes flashcard decks in the Anki package (.apkg) format:
// a zip archive holding a SQLite collection plus a media manifest.
package anki

import (
	"archive/zip"
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// QAPair is one flashcard: a question on the front, an answer on the back.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Encoder produces a binary .apkg package from a titled list of Q&A pairs.
type Encoder interface {
	Encode(title string, pairs []QAPair, deckID int64) ([]byte, error)
}

// PackageEncoder is the built-in Encoder. The zero value is ready to use.
type PackageEncoder struct {
	// Now overrides the clock in tests; nil means time.Now.
	Now func() time.Time
}

// DeckIDFromString derives a stable numeric deck identifier from an opaque
// string such as a job id, so regenerating a deck updates it in place
// instead of duplicating it.
func DeckIDFromString(s string) int64 {
	digest := sha256.Sum256([]byte(s))
	hexDigest := fmt.Sprintf("%x", digest)
	id, err := strconv.ParseInt(hexDigest[:15], 16, 64)
	if err != nil {
		// 15 hex digits always fit in an int64; this is unreachable.
		return 1
	}
	return id
}

// Encode builds the .apkg bytes. Fields are HTML-escaped; pairs with an
// empty question or answer are skipped. At least one usable pair is
// required.
func (e *PackageEncoder) Encode(title string, pairs []QAPair, deckID int64) ([]byte, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("deck title must not be empty")
	}

	usable := make([]QAPair, 0, len(pairs))
	for _, pair := range pairs {
		if strings.TrimSpace(pair.Question) != "" && strings.TrimSpace(pair.Answer) != "" {
			usable = append(usable, pair)
		}
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("no usable question/answer pairs")
	}

	if deckID == 0 {
		deckID = DeckIDFromString(title)
	}
	modelID := DeckIDFromString(title + "_model")

	collection, err := e.buildCollection(title, usable, deckID, modelID)
	if err != nil {
		return nil, err
	}

	return zipPackage(collection)
}

// buildCollection writes the SQLite collection into a temp file and returns
// its bytes. modernc.org/sqlite needs a real file, so the database lives in
// a scratch directory for the duration of the call.
func (e *PackageEncoder) buildCollection(title string, pairs []QAPair, deckID, modelID int64) ([]byte, error) {
	dir, err := os.MkdirTemp("", "ankibot-deck-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	dbPath := filepath.Join(dir, "collection.anki2")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(collectionSchema); err != nil {
		return nil, fmt.Errorf("failed to create collection schema: %w", err)
	}

	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}
	epoch := now.Unix()
	epochMillis := now.UnixMilli()

	models, err := modelsJSON(modelID, deckID, epoch, fmt.Sprintf("Simple Model for %s", title))
	if err != nil {
		return nil, err
	}
	decks, err := decksJSON(deckID, epoch, title)
	if err != nil {
		return nil, err
	}
	conf, err := confJSON(modelID)
	if err != nil {
		return nil, err
	}
	dconf, err := dconfJSON()
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(
		`INSERT INTO col (id, crt, mod, scm, ver, dty, usn, ls, conf, models, decks, dconf, tags)
		 VALUES (1, ?, ?, ?, 11, 0, 0, 0, ?, ?, ?, ?, '{}')`,
		epoch, epochMillis, epochMillis, conf, models, decks, dconf,
	); err != nil {
		return nil, fmt.Errorf("failed to write collection row: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin note transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	noteStmt, err := tx.Prepare(
		`INSERT INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data)
		 VALUES (?, ?, ?, ?, -1, '', ?, ?, ?, 0, '')`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare note insert: %w", err)
	}
	defer func() { _ = noteStmt.Close() }()

	cardStmt, err := tx.Prepare(
		`INSERT INTO cards (id, nid, did, ord, mod, usn, type, queue, due, ivl, factor, reps, lapses, left, odue, odid, flags, data)
		 VALUES (?, ?, ?, 0, ?, -1, 0, 0, ?, 0, 0, 0, 0, 0, 0, 0, 0, '')`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare card insert: %w", err)
	}
	defer func() { _ = cardStmt.Close() }()

	for i, pair := range pairs {
		question := html.EscapeString(pair.Question)
		answer := html.EscapeString(pair.Answer)

		noteID := epochMillis + int64(i)
		flds := question + fieldSeparator + answer
		guid := noteGUID(deckID, i)

		if _, err := noteStmt.Exec(noteID, guid, modelID, epoch, flds, question, fieldChecksum(question)); err != nil {
			return nil, fmt.Errorf("failed to insert note %d: %w", i, err)
		}
		if _, err := cardStmt.Exec(noteID+1, noteID, deckID, epoch, i+1); err != nil {
			return nil, fmt.Errorf("failed to insert card %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit notes: %w", err)
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("failed to close collection database: %w", err)
	}

	return os.ReadFile(dbPath)
}

// noteGUID returns a stable note identifier so re-importing an updated deck
// overwrites notes instead of duplicating them.
func noteGUID(deckID int64, index int) string {
	digest := sha256.Sum256(fmt.Appendf(nil, "%d%s%d", deckID, fieldSeparator, index))
	return fmt.Sprintf("%x", digest)[:10]
}

// fieldChecksum is the integer value of the first 8 hex digits of the
// SHA1 of the sort field, matching Anki's duplicate detection.
func fieldChecksum(sortField string) int64 {
	digest := sha1.Sum([]byte(sortField))
	value, err := strconv.ParseInt(fmt.Sprintf("%x", digest)[:8], 16, 64)
	if err != nil {
		return 0
	}
	return value
}

// zipPackage wraps the collection bytes and an empty media manifest into
// the final archive.
func zipPackage(collection []byte) ([]byte, error) {
	var buf bytes.Buffer
	archive := zip.NewWriter(&buf)

	entry, err := archive.Create("collection.anki2")
	if err != nil {
		return nil, fmt.Errorf("failed to create collection entry: %w", err)
	}
	if _, err := entry.Write(collection); err != nil {
		return nil, fmt.Errorf("failed to write collection entry: %w", err)
	}

	media, err := archive.Create("media")
	if err != nil {
		return nil, fmt.Errorf("failed to create media entry: %w", err)
	}
	if _, err := media.Write([]byte("{}")); err != nil {
		return nil, fmt.Errorf("failed to write media entry: %w", err)
	}

	if err := archive.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalise package: %w", err)
	}

	return buf.Bytes(), nil
}
