package wfs

import "os"

// createSized creates an empty file of exactly size bytes, as mkfs
// expects: a backing image pre-sized by the deployment before
// formatting.
func createSized(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(size)
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
