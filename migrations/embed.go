// Package migrations embeds the aggregator's SQL schema migrations so a
// single binary carries its own schema. The storage layer applies them at
// startup; no external migration files or tooling are needed at deploy time.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embedded embed.FS

// FS returns the embedded migration filesystem, suitable for the
// golang-migrate iofs source driver.
func FS() fs.FS {
	return embedded
}

// Migration filename regex: 001_migration_name.up.sql or 001_migration_name.down.sql.
var filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// info holds the parsed components of one migration filename.
type info struct {
	sequence  int
	name      string
	direction string
}

// List returns the embedded migration files that conform to the strict naming
// standard, sorted lexicographically. Files with nonconforming names are
// excluded so they cannot silently change what the runner applies.
func List() ([]string, error) {
	entries, err := fs.ReadDir(embedded, ".")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	files := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()
		if filepath.Ext(filename) == ".sql" && filenameRegex.MatchString(filename) {
			files = append(files, filename)
		}
	}

	// Lexicographic order matches sequence order under the naming standard.
	sort.Strings(files)

	return files, nil
}

// Validate checks the embedded migration set: at least one file, strict
// filenames, every up paired with a down, and no gaps in the sequence.
// Run before applying migrations so a bad build fails fast at startup.
func Validate() error {
	files, err := List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	parsed := make([]info, 0, len(files))

	for _, file := range files {
		migration, err := parseFilename(file)
		if err != nil {
			return err
		}

		parsed = append(parsed, migration)
	}

	if err := validatePairing(parsed); err != nil {
		return err
	}

	return validateSequence(parsed)
}

func parseFilename(filename string) (info, error) {
	matches := filenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return info{}, fmt.Errorf(
			"invalid migration filename %s (expected: 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return info{}, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return info{sequence: sequence, name: matches[2], direction: matches[3]}, nil
}

// validatePairing ensures every up migration has a matching down migration.
func validatePairing(parsed []info) error {
	directions := make(map[string]map[string]bool)

	for _, migration := range parsed {
		key := fmt.Sprintf("%03d_%s", migration.sequence, migration.name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][migration.direction] = true
	}

	for key, seen := range directions {
		if !seen["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !seen["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures the sequence starts at 001 and has no gaps.
func validateSequence(parsed []info) error {
	sequences := make(map[int]bool)
	for _, migration := range parsed {
		sequences[migration.sequence] = true
	}

	numbers := make([]int, 0, len(sequences))
	for seq := range sequences {
		numbers = append(numbers, seq)
	}

	sort.Ints(numbers)

	if len(numbers) == 0 {
		return nil
	}

	if numbers[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", numbers[0])
	}

	for i := 1; i < len(numbers); i++ {
		if numbers[i] != numbers[i-1]+1 {
			return fmt.Errorf(
				"gap in migration sequence: expected %03d, found %03d",
				numbers[i-1]+1, numbers[i],
			)
		}
	}

	return nil
}
