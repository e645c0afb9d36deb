package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// resolveDocPath returns the story document to run: the positional
// argument when given, otherwise a story document discovered in the
// current directory.
func resolveDocPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return pickDocument(".")
}

// pickDocument scans dir for JSON files carrying a userStories array.
// A single candidate is used directly; multiple candidates prompt the
// user to choose.
func pickDocument(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return "", err
	}

	var candidates []string
	for _, path := range matches {
		if isStoryDocument(path) {
			candidates = append(candidates, path)
		}
	}
	sort.Strings(candidates)

	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("no story document found in %s: pass a prd.json path", dir)
	case 1:
		return candidates[0], nil
	}

	fmt.Println("Multiple story documents found:")
	for i, path := range candidates {
		fmt.Printf("  %d) %s\n", i+1, path)
	}
	fmt.Print("Select: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading selection: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > len(candidates) {
		return "", fmt.Errorf("invalid selection %q", strings.TrimSpace(line))
	}
	return candidates[n-1], nil
}

// isStoryDocument reports whether the file parses as JSON with a
// userStories key. Malformed or unrelated JSON files are skipped
// silently so the picker does not trip on tsconfig and the like.
func isStoryDocument(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var probe struct {
		UserStories json.RawMessage `json:"userStories"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return len(probe.UserStories) > 0
}
