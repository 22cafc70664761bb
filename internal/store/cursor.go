package store

import "strconv"

func seqCursor(seq int) string { return strconv.Itoa(seq) }

// parseSeqCursor treats an empty or malformed cursor as the first page.
func parseSeqCursor(c string) int {
    n, err := strconv.Atoi(c)
    if err != nil || n < 0 { return 0 }
    return n
}
