package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// VarEnvPrefix marks environment variables that set config variables:
// CELLGRID_VAR_anthropic_key sets vars.anthropic_key.
const VarEnvPrefix = "CELLGRID_VAR_"

// GetVarsFilePath returns ~/.cellgrid/vars.txt.
func GetVarsFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cellgrid", "vars.txt"), nil
}

// varsFile is a name=value file, one variable per line. Blank lines and
// lines starting with # are skipped.
type varsFile struct {
	path string
}

func openVarsFile() (varsFile, error) {
	path, err := GetVarsFilePath()
	if err != nil {
		return varsFile{}, err
	}
	return varsFile{path: path}, nil
}

func (f varsFile) read() (map[string]string, error) {
	vars := make(map[string]string)
	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return vars, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		if name, value, ok := strings.Cut(line, "="); ok {
			vars[strings.TrimSpace(name)] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	return vars, nil
}

// write replaces the file with vars, sorted by name.
func (f varsFile) write(vars map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}
	var b strings.Builder
	for _, name := range sortedNames(vars) {
		fmt.Fprintf(&b, "%s=%s\n", name, vars[name])
	}
	return os.WriteFile(f.path, []byte(b.String()), 0600)
}

// update reads the file, applies fn and writes the result back.
func (f varsFile) update(fn func(map[string]string) error) error {
	vars, err := f.read()
	if err != nil {
		return err
	}
	if err := fn(vars); err != nil {
		return err
	}
	return f.write(vars)
}

func sortedNames(vars map[string]string) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadVarsFromFile returns every stored variable. A missing file is empty.
func LoadVarsFromFile() (map[string]string, error) {
	f, err := openVarsFile()
	if err != nil {
		return nil, err
	}
	return f.read()
}

func SaveVarsToFile(vars map[string]string) error {
	f, err := openVarsFile()
	if err != nil {
		return err
	}
	return f.write(vars)
}

func GetVar(name string) (string, error) {
	vars, err := LoadVarsFromFile()
	if err != nil {
		return "", err
	}
	value, ok := vars[name]
	if !ok {
		return "", fmt.Errorf("variable '%s' not found", name)
	}
	return value, nil
}

func SetVar(name, value string) error {
	if name == "" || strings.ContainsAny(name, "=\n") {
		return fmt.Errorf("invalid variable name %q", name)
	}
	f, err := openVarsFile()
	if err != nil {
		return err
	}
	return f.update(func(vars map[string]string) error {
		vars[name] = value
		return nil
	})
}

func DeleteVar(name string) error {
	f, err := openVarsFile()
	if err != nil {
		return err
	}
	return f.update(func(vars map[string]string) error {
		if _, ok := vars[name]; !ok {
			return fmt.Errorf("variable '%s' not found", name)
		}
		delete(vars, name)
		return nil
	})
}

// ListVars returns the stored variable names, sorted.
func ListVars() ([]string, error) {
	vars, err := LoadVarsFromFile()
	if err != nil {
		return nil, err
	}
	return sortedNames(vars), nil
}

// ResolveVariableValue returns the effective value of v: the
// CELLGRID_VAR_ environment variable, then the vars file, then the default.
func ResolveVariableValue(v *Variable) (string, error) {
	fileVars, err := LoadVarsFromFile()
	if err != nil {
		return "", err
	}
	return resolveVariable(v, fileVars), nil
}

func resolveVariable(v *Variable, fileVars map[string]string) string {
	if envValue, ok := os.LookupEnv(VarEnvPrefix + v.Name); ok {
		return envValue
	}
	if fileValue, ok := fileVars[v.Name]; ok {
		return fileValue
	}
	return v.Default
}
