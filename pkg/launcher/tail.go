package launcher

import (
	"bufio"
	"fmt"
	"os"
)

// maxLineSize caps a single log line read by Tail.
const maxLineSize = 1024 * 1024

// Tail returns the last n lines of the file at path.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		ring[count%n] = scanner.Text()
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log %s: %w", path, err)
	}

	if count < n {
		return append([]string(nil), ring[:count]...), nil
	}
	start := count % n
	return append(append([]string(nil), ring[start:]...), ring[:start]...), nil
}
