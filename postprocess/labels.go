package postprocess

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadLabels reads the labels used to train the detection model from the
// given text file.  It should contain one label per line, the line number
// being the class id
func LoadLabels(file string) ([]string, error) {

	// open the file
	f, err := os.Open(file)

	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}

	defer f.Close()

	// create a scanner to read the file.
	scanner := bufio.NewScanner(f)

	var labels []string

	// read and trim each line
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		labels = append(labels, line)
	}

	// check for errors during scanning
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	return labels, nil
}

// ClassID returns the class id of the named label, matched case
// insensitively
func ClassID(labels []string, name string) (int, error) {

	for i, label := range labels {
		if strings.EqualFold(label, name) {
			return i, nil
		}
	}

	return -1, fmt.Errorf("label %q not found in %d labels", name, len(labels))
}
