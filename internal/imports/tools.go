package imports

import (
	// Tool packages register themselves via init.
	_ "github.com/SaschaKiebler/ankiBot/internal/tools/parsepdf"
	_ "github.com/SaschaKiebler/ankiBot/internal/tools/qafile"
	_ "github.com/SaschaKiebler/ankiBot/internal/tools/studyfile"
)
