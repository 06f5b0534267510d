package indexing

import "strings"

// Directories that never contain hand-written source worth indexing.
var ignoredDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	"dist":         {},
	"build":        {},
	".next":        {},
	"vendor":       {},
	"__pycache__":  {},
	".venv":        {},
	"coverage":     {},
	".turbo":       {},
	".cache":       {},
	".output":      {},
	"out":          {},
	".nuxt":        {},
	".svelte-kit":  {},
	"target":       {},
	"bin":          {},
	"obj":          {},
}

var ignoredFiles = map[string]struct{}{
	"package-lock.json": {},
	"yarn.lock":         {},
	"pnpm-lock.yaml":    {},
	"Gemfile.lock":      {},
	"poetry.lock":       {},
	"composer.lock":     {},
	"Cargo.lock":        {},
	"go.sum":            {},
}

var allowedExtensions = map[string]struct{}{
	".ts":          {},
	".tsx":         {},
	".js":          {},
	".jsx":         {},
	".py":          {},
	".rb":          {},
	".go":          {},
	".rs":          {},
	".java":        {},
	".kt":          {},
	".swift":       {},
	".c":           {},
	".cpp":         {},
	".h":           {},
	".hpp":         {},
	".cs":          {},
	".css":         {},
	".scss":        {},
	".less":        {},
	".html":        {},
	".sql":         {},
	".graphql":     {},
	".gql":         {},
	".proto":       {},
	".yaml":        {},
	".yml":         {},
	".toml":        {},
	".json":        {},
	".md":          {},
	".mdx":         {},
	".txt":         {},
	".sh":          {},
	".bash":        {},
	".zsh":         {},
	".dockerfile":  {},
	".xml":         {},
	".svg":         {},
	".env.example": {},
	".gitignore":   {},
	".eslintrc":    {},
	".prettierrc":  {},
}

// Well-known files with no extension that are still worth indexing.
var allowedFilenames = map[string]struct{}{
	"Dockerfile":          {},
	"Makefile":            {},
	"Rakefile":            {},
	"Gemfile":             {},
	"Procfile":            {},
	"Vagrantfile":         {},
	"docker-compose.yml":  {},
	"docker-compose.yaml": {},
}

var languageByExtension = map[string]string{
	".ts":         "typescript",
	".tsx":        "tsx",
	".js":         "javascript",
	".jsx":        "jsx",
	".py":         "python",
	".rb":         "ruby",
	".go":         "go",
	".rs":         "rust",
	".java":       "java",
	".kt":         "kotlin",
	".swift":      "swift",
	".c":          "c",
	".cpp":        "cpp",
	".h":          "c",
	".hpp":        "cpp",
	".cs":         "csharp",
	".css":        "css",
	".scss":       "scss",
	".html":       "html",
	".sql":        "sql",
	".graphql":    "graphql",
	".gql":        "graphql",
	".yaml":       "yaml",
	".yml":        "yaml",
	".toml":       "toml",
	".json":       "json",
	".md":         "markdown",
	".mdx":        "mdx",
	".sh":         "shell",
	".bash":       "shell",
	".dockerfile": "dockerfile",
}

// ShouldIndexFile reports whether a repository path is worth chunking and
// embedding. Pure and total: any string input yields a verdict.
func ShouldIndexFile(path string) bool {
	parts := strings.Split(path, "/")
	for _, dir := range parts[:len(parts)-1] {
		if _, ok := ignoredDirs[dir]; ok {
			return false
		}
	}

	name := parts[len(parts)-1]

	if _, ok := ignoredFiles[name]; ok {
		return false
	}

	// Minified bundles and source maps are machine output.
	if strings.HasSuffix(name, ".min.js") || strings.HasSuffix(name, ".min.css") {
		return false
	}
	if strings.HasSuffix(name, ".map") {
		return false
	}

	// Dotenv files hold secrets. Example variants escape this rule but
	// still have to clear the extension check below.
	if strings.HasPrefix(name, ".env") && !strings.Contains(name, "example") {
		return false
	}

	if _, ok := allowedFilenames[name]; ok {
		return true
	}

	ext := extensionOf(name)
	if ext == "" {
		return false
	}
	_, ok := allowedExtensions[ext]
	return ok
}

// DetectLanguage maps a path to a language tag for chunk metadata.
// Returns "" for unknown or extensionless files.
func DetectLanguage(path string) string {
	parts := strings.Split(path, "/")
	return languageByExtension[extensionOf(parts[len(parts)-1])]
}

func extensionOf(name string) string {
	i := strings.LastIndex(name, ".")
	if i == -1 {
		return ""
	}
	return strings.ToLower(name[i:])
}
