package utils

import (
	"fmt"
	"os"
)

func FileExist(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil
}

func CreateDirIfNotExist(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}

	return nil
}

// MapsLink returns a link to the given coordinates that any phone can open
func MapsLink(latitude, longitude float64) string {
	return fmt.Sprintf("https://maps.google.com/?q=%.6f,%.6f", latitude, longitude)
}
