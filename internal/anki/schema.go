package anki

import (
	"encoding/json"
	"fmt"
)

// collectionSchema is the SQLite schema Anki expects inside an .apkg
// (collection version 11, the format every Anki client still imports).
const collectionSchema = `
CREATE TABLE col (
    id     integer primary key,
    crt    integer not null,
    mod    integer not null,
    scm    integer not null,
    ver    integer not null,
    dty    integer not null,
    usn    integer not null,
    ls     integer not null,
    conf   text not null,
    models text not null,
    decks  text not null,
    dconf  text not null,
    tags   text not null
);
CREATE TABLE notes (
    id    integer primary key,
    guid  text not null,
    mid   integer not null,
    mod   integer not null,
    usn   integer not null,
    tags  text not null,
    flds  text not null,
    sfld  integer not null,
    csum  integer not null,
    flags integer not null,
    data  text not null
);
CREATE TABLE cards (
    id     integer primary key,
    nid    integer not null,
    did    integer not null,
    ord    integer not null,
    mod    integer not null,
    usn    integer not null,
    type   integer not null,
    queue  integer not null,
    due    integer not null,
    ivl    integer not null,
    factor integer not null,
    reps   integer not null,
    lapses integer not null,
    left   integer not null,
    odue   integer not null,
    odid   integer not null,
    flags  integer not null,
    data   text not null
);
CREATE TABLE revlog (
    id      integer primary key,
    cid     integer not null,
    usn     integer not null,
    ease    integer not null,
    ivl     integer not null,
    lastIvl integer not null,
    factor  integer not null,
    time    integer not null,
    type    integer not null
);
CREATE TABLE graves (
    usn  integer not null,
    oid  integer not null,
    type integer not null
);
CREATE INDEX ix_notes_usn ON notes (usn);
CREATE INDEX ix_cards_usn ON cards (usn);
CREATE INDEX ix_revlog_usn ON revlog (usn);
CREATE INDEX ix_cards_nid ON cards (nid);
CREATE INDEX ix_cards_sched ON cards (did, queue, due);
CREATE INDEX ix_revlog_cid ON revlog (cid);
CREATE INDEX ix_notes_csum ON notes (csum);
`

const defaultCardCSS = `.card {
 font-family: arial;
 font-size: 20px;
 text-align: center;
 color: black;
 background-color: white;
}`

// fieldSeparator joins note fields inside the flds column.
const fieldSeparator = "\x1f"

func modelsJSON(modelID, deckID, mod int64, modelName string) (string, error) {
	field := func(name string, ord int) map[string]any {
		return map[string]any{
			"name":   name,
			"ord":    ord,
			"sticky": false,
			"rtl":    false,
			"font":   "Arial",
			"size":   20,
			"media":  []any{},
		}
	}

	model := map[string]any{
		"id":        modelID,
		"name":      modelName,
		"did":       deckID,
		"mod":       mod,
		"usn":       -1,
		"type":      0,
		"sortf":     0,
		"css":       defaultCardCSS,
		"latexPre":  "\\documentclass[12pt]{article}\n\\special{papersize=3in,5in}\n\\usepackage[utf8]{inputenc}\n\\usepackage{amssymb,amsmath}\n\\pagestyle{empty}\n\\setlength{\\parindent}{0in}\n\\begin{document}\n",
		"latexPost": "\\end{document}",
		"flds":      []any{field("Question", 0), field("Answer", 1)},
		"tmpls": []any{
			map[string]any{
				"name":  "Card 1",
				"ord":   0,
				"qfmt":  "{{Question}}",
				"afmt":  "{{FrontSide}}<hr id=\"answer\">{{Answer}}",
				"bqfmt": "",
				"bafmt": "",
				"did":   nil,
			},
		},
		"req":  []any{[]any{0, "all", []any{0}}},
		"tags": []any{},
		"vers": []any{},
	}

	return marshalKeyed(modelID, model)
}

func decksJSON(deckID, mod int64, name string) (string, error) {
	deck := func(id int64, name string) map[string]any {
		return map[string]any{
			"id":               id,
			"name":             name,
			"desc":             "",
			"mod":              mod,
			"usn":              -1,
			"collapsed":        false,
			"browserCollapsed": false,
			"newToday":         []int{0, 0},
			"revToday":         []int{0, 0},
			"lrnToday":         []int{0, 0},
			"timeToday":        []int{0, 0},
			"dyn":              0,
			"extendNew":        10,
			"extendRev":        50,
			"conf":             1,
		}
	}

	decks := map[string]any{
		"1":                        deck(1, "Default"),
		fmt.Sprintf("%d", deckID): deck(deckID, name),
	}

	data, err := json.Marshal(decks)
	return string(data), err
}

func confJSON(modelID int64) (string, error) {
	conf := map[string]any{
		"activeDecks":   []int{1},
		"addToCur":      true,
		"collapseTime":  1200,
		"curDeck":       1,
		"curModel":      fmt.Sprintf("%d", modelID),
		"dueCounts":     true,
		"estTimes":      true,
		"newBury":       true,
		"newSpread":     0,
		"nextPos":       1,
		"sortBackwards": false,
		"sortType":      "noteFld",
		"timeLim":       0,
	}

	data, err := json.Marshal(conf)
	return string(data), err
}

func dconfJSON() (string, error) {
	dconf := map[string]any{
		"1": map[string]any{
			"id":       1,
			"name":     "Default",
			"autoplay": true,
			"timer":    0,
			"replayq":  true,
			"mod":      0,
			"usn":      0,
			"maxTaken": 60,
			"new": map[string]any{
				"bury":          true,
				"delays":        []int{1, 10},
				"initialFactor": 2500,
				"ints":          []int{1, 4, 7},
				"order":         1,
				"perDay":        20,
				"separate":      true,
			},
			"lapse": map[string]any{
				"delays":      []int{10},
				"leechAction": 0,
				"leechFails":  8,
				"minInt":      1,
				"mult":        0,
			},
			"rev": map[string]any{
				"bury":     true,
				"ease4":    1.3,
				"fuzz":     0.05,
				"ivlFct":   1,
				"maxIvl":   36500,
				"minSpace": 1,
				"perDay":   100,
			},
		},
	}

	data, err := json.Marshal(dconf)
	return string(data), err
}

func marshalKeyed(id int64, value map[string]any) (string, error) {
	data, err := json.Marshal(map[string]any{fmt.Sprintf("%d", id): value})
	return string(data), err
}
