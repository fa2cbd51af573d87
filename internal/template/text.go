package template

import "os"

func parseTextFile(path string) (Result, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	return ParseText(string(b)), nil
}
