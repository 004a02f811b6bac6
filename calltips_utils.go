// calltips_utils.go
package calltips

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ============================================================================
// Logging Helpers
// ============================================================================

// ParseLogLevel converts a log level string into a slog.Level.
func ParseLogLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", levelStr)
	}
}

// ============================================================================
// URI Helpers
// ============================================================================

// ValidateAndGetFilePath converts a file:// URI (or a plain path) to a clean absolute path.
func ValidateAndGetFilePath(uri string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if uri == "" {
		return "", fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}
	path := uri
	if strings.Contains(uri, "://") {
		parsed, err := url.Parse(uri)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidURI, err)
		}
		if parsed.Scheme != "file" {
			logger.Warn("Unsupported URI scheme", "uri", uri, "scheme", parsed.Scheme)
			return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURI, parsed.Scheme)
		}
		path = filepath.FromSlash(parsed.Path)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: cannot make path absolute: %w", ErrInvalidURI, err)
	}
	return filepath.Clean(absPath), nil
}

// PathToURI converts an absolute file path to a file:// URI.
func PathToURI(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(absPath)}
	return u.String(), nil
}

// hashContent returns a short hex digest of buffer contents, used for cache keys.
func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:8])
}

// ============================================================================
// LSP Position Conversion Helpers
// ============================================================================

// LspPositionToBytePosition converts 0-based LSP line/character (UTF-16) to
// 1-based Go line/column (bytes) and 0-based byte offset.
func LspPositionToBytePosition(content []byte, lspPos LSPPosition) (line, col, byteOffset int, err error) {
	if content == nil {
		return 0, 0, -1, fmt.Errorf("%w: file content is nil", ErrPositionConversion)
	}
	targetLine := int(lspPos.Line)
	targetUTF16Char := int(lspPos.Character)

	currentLine := 0
	currentByteOffset := 0
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), len(content)+1)
	for scanner.Scan() {
		lineTextBytes := scanner.Bytes()
		lineLengthBytes := len(lineTextBytes)
		if currentLine == targetLine {
			byteOffsetInLine, convErr := Utf16OffsetToBytes(lineTextBytes, targetUTF16Char)
			if convErr != nil {
				if errors.Is(convErr, ErrPositionOutOfRange) { // Clamp to line end on out-of-range error.
					slog.Warn("UTF16 offset out of range, clamping to line end",
						"line", targetLine,
						"char", targetUTF16Char,
						"error", convErr)
					byteOffsetInLine = lineLengthBytes
				} else {
					return 0, 0, -1, fmt.Errorf("failed converting UTF16 to byte offset on line %d: %w", currentLine, convErr)
				}
			}
			return currentLine + 1, byteOffsetInLine + 1, currentByteOffset + byteOffsetInLine, nil
		}
		currentByteOffset += lineLengthBytes + 1 // Assume \n line endings.
		currentLine++
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, -1, fmt.Errorf("%w: error scanning file content: %w", ErrPositionConversion, err)
	}

	// Cursor on the line after the last line of content.
	if currentLine == targetLine {
		if targetUTF16Char == 0 {
			return currentLine + 1, 1, min(currentByteOffset, len(content)), nil
		}
		return 0, 0, -1, fmt.Errorf("%w: invalid character offset %d on line %d (after last line with content)", ErrPositionOutOfRange, targetUTF16Char, targetLine)
	}
	return 0, 0, -1, fmt.Errorf("%w: LSP line %d not found in file (total lines scanned %d)", ErrPositionOutOfRange, targetLine, currentLine)
}

// Utf16OffsetToBytes converts a 0-based UTF-16 offset within a line to a 0-based byte offset.
func Utf16OffsetToBytes(line []byte, utf16Offset int) (int, error) {
	if utf16Offset < 0 {
		return 0, fmt.Errorf("%w: invalid utf16Offset: %d (must be >= 0)", ErrInvalidPositionInput, utf16Offset)
	}
	if utf16Offset == 0 {
		return 0, nil
	}

	byteOffset := 0
	currentUTF16Offset := 0
	for byteOffset < len(line) {
		r, size := utf8.DecodeRune(line[byteOffset:])
		if r == utf8.RuneError && size <= 1 {
			return byteOffset, fmt.Errorf("%w at byte offset %d", ErrInvalidUTF8, byteOffset)
		}
		utf16Units := 1
		if r > 0xFFFF {
			utf16Units = 2
		} // Surrogate pairs require 2 units.
		if currentUTF16Offset+utf16Units > utf16Offset {
			break
		}
		currentUTF16Offset += utf16Units
		byteOffset += size
		if currentUTF16Offset == utf16Offset {
			break
		}
	}
	if currentUTF16Offset < utf16Offset {
		return len(line), fmt.Errorf("%w: utf16Offset %d is beyond the line length in UTF-16 units (%d)", ErrPositionOutOfRange, utf16Offset, currentUTF16Offset)
	}
	return byteOffset, nil
}

// LineColToOffset converts a 1-based line and 1-based byte column to a 0-based byte offset.
// A column one past the end of the line is allowed (caret at end of line).
func LineColToOffset(content []byte, line, col int) (int, error) {
	if line < 1 || col < 1 {
		return -1, fmt.Errorf("%w: line %d, column %d (both must be >= 1)", ErrInvalidPositionInput, line, col)
	}
	lineStart := 0
	for current := 1; current < line; current++ {
		idx := bytes.IndexByte(content[lineStart:], '\n')
		if idx < 0 {
			return -1, fmt.Errorf("%w: line %d beyond end of file", ErrPositionOutOfRange, line)
		}
		lineStart += idx + 1
	}
	lineEnd := len(content)
	if idx := bytes.IndexByte(content[lineStart:], '\n'); idx >= 0 {
		lineEnd = lineStart + idx
	}
	offset := lineStart + col - 1
	if offset > lineEnd {
		return -1, fmt.Errorf("%w: column %d beyond end of line %d", ErrPositionOutOfRange, col, line)
	}
	return offset, nil
}

// OffsetToLSPPosition converts a 0-based byte offset to an LSP position (UTF-16 characters).
func OffsetToLSPPosition(content []byte, offset int) (LSPPosition, error) {
	line, char, err := byteOffsetToLSPPosition(content, offset, slog.Default())
	if err != nil {
		return LSPPosition{}, fmt.Errorf("%w: %w", ErrPositionConversion, err)
	}
	return LSPPosition{Line: line, Character: char}, nil
}
