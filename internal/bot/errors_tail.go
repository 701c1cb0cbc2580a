package bot

import (
	"bufio"
	"os"
)

// TailLastNLines returns up to the last n lines of the file at path.
func TailLastNLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if n <= 0 {
		return nil, nil
	}

	// ring buffer: next is the slot the next line overwrites once full
	ring := make([]string, 0, n)
	next := 0
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), 1<<20)
	for s.Scan() {
		if len(ring) < n {
			ring = append(ring, s.Text())
			continue
		}
		ring[next] = s.Text()
		next = (next + 1) % n
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return append(ring[next:], ring[:next]...), nil
}
