package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultStartup is the fallback program name inside a script directory.
const DefaultStartup = "startup.js"

// Loader finds the program a computer boots.
type Loader interface {
	Load(id int) (Program, error)
}

// DirLoader loads <Dir>/<id>.js, falling back to <Dir>/startup.js.
type DirLoader struct {
	Dir string
}

// Path returns the file computer id would boot, whether or not it exists.
func (l DirLoader) Path(id int) string {
	own := filepath.Join(l.Dir, strconv.Itoa(id)+".js")
	if _, err := os.Stat(own); err == nil {
		return own
	}
	return filepath.Join(l.Dir, DefaultStartup)
}

// Load reads the program for computer id.
func (l DirLoader) Load(id int) (Program, error) {
	path := l.Path(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Program{}, fmt.Errorf("no program for computer %d in %s", id, l.Dir)
		}
		return Program{}, fmt.Errorf("read program: %w", err)
	}
	return Program{Name: filepath.Base(path), Source: string(data)}, nil
}

// ComputerIDFromPath returns the computer id a script file belongs to.
// startup.js belongs to every computer and returns ok=true with id -1.
func ComputerIDFromPath(path string) (id int, ok bool) {
	base := filepath.Base(path)
	if base == DefaultStartup {
		return -1, true
	}
	ext := filepath.Ext(base)
	if ext != ".js" {
		return 0, false
	}
	id, err := strconv.Atoi(base[:len(base)-len(ext)])
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// StaticLoader boots the same source on every computer.
type StaticLoader struct {
	Name   string
	Source string
}

// Load returns the static program.
func (l StaticLoader) Load(int) (Program, error) {
	name := l.Name
	if name == "" {
		name = DefaultStartup
	}
	return Program{Name: name, Source: l.Source}, nil
}
