package retrieval

// synonymMap is the built-in, fixed synonym table used for keyword
// expansion. It must match exactly across implementations for reproducible
// retrieval — do not add, remove, or reorder entries without treating it as
// a breaking change to every determinism-sensitive test downstream.
var synonymMap = map[string][]string{
	"install":  {"install", "setup", "installation", "pip", "npm", "brew"},
	"package":  {"package", "library", "module", "dependency", "import"},
	"error":    {"error", "exception", "bug", "issue", "problem", "fail"},
	"function": {"function", "method", "def", "procedure", "func"},
	"api":      {"api", "endpoint", "service", "interface", "rest"},
	"database": {"database", "db", "storage", "postgres", "sql"},
}

// synonymRoots lists the map's keys in a fixed order so expansion-scanning
// (prefix matching) is deterministic regardless of Go's randomized map
// iteration order.
var synonymRoots = []string{
	"install", "package", "error", "function", "api", "database",
}
