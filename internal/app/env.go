package app

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv loads whichever of the given dotenv files exist and reports how
// many were read. Variables already set in the environment win.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}
