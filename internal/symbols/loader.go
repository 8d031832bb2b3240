// Package symbols resolves universe specifications into ticker lists.
package symbols

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// FavoritesSource loads a saved favorites list
type FavoritesSource interface {
	LoadFavorites(ctx context.Context, list string) ([]string, error)
}

// DefaultFavorites is the list used by a bare "favorites" spec
const DefaultFavorites = "default"

// Loader resolves universe specs. Favorites may be nil when no store is
// configured.
type Loader struct {
	favorites FavoritesSource
}

// NewLoader creates a new symbol loader
func NewLoader(favorites FavoritesSource) *Loader {
	return &Loader{favorites: favorites}
}

// Resolve turns a spec into a normalized, de-duplicated symbol list.
// Accepted forms:
//
//	nasdaq100            a built-in universe
//	favorites[:name]     a saved favorites list
//	@path/to/file.txt    one symbol per line, # comments
//	AAPL,msft, NVDA      an explicit list
func (l *Loader) Resolve(ctx context.Context, spec string) ([]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty universe spec")
	}

	if list := GetUniverse(Universe(strings.ToLower(spec))); list != nil {
		return list, nil
	}

	if name, ok := favoritesName(spec); ok {
		if l.favorites == nil {
			return nil, fmt.Errorf("favorites %q: no store configured", name)
		}
		syms, err := l.favorites.LoadFavorites(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("favorites %q: %w", name, err)
		}
		if len(syms) == 0 {
			return nil, fmt.Errorf("favorites %q is empty", name)
		}
		return Normalize(syms)
	}

	if path, ok := strings.CutPrefix(spec, "@"); ok {
		return LoadFile(path)
	}

	return Normalize(strings.Split(spec, ","))
}

func favoritesName(spec string) (string, bool) {
	lower := strings.ToLower(spec)
	if lower == "favorites" {
		return DefaultFavorites, true
	}
	if name, ok := strings.CutPrefix(lower, "favorites:"); ok && name != "" {
		return name, true
	}
	return "", false
}

// LoadFile reads a symbol file
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open symbol file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses one or more comma separated symbols per line. Text after a
// '#' is ignored.
func Read(r io.Reader) ([]string, error) {
	var raw []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line, _, _ := strings.Cut(sc.Text(), "#")
		raw = append(raw, strings.Split(line, ",")...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read symbols: %w", err)
	}
	return Normalize(raw)
}

// Normalize uppercases, drops blanks and duplicates (first occurrence
// wins) and rejects malformed tickers
func Normalize(raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		if !IsValidSymbol(s) {
			return nil, fmt.Errorf("invalid symbol %q", s)
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no symbols")
	}
	return out, nil
}

// IsValidSymbol accepts tickers like AAPL, BRK.B and BF-B
func IsValidSymbol(symbol string) bool {
	if len(symbol) == 0 || len(symbol) > 10 {
		return false
	}
	for i, c := range symbol {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case (c == '.' || c == '-') && i > 0 && i < len(symbol)-1:
		default:
			return false
		}
	}
	return true
}
