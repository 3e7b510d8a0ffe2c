// Package classify talks to the remote classification service.
package classify

// BuildUserTurn renders the single user turn sent for a file: the extracted
// content, a blank line, then the original filename.
func BuildUserTurn(content, filename string) string {
	return content + "\n\nfilename : " + filename
}
