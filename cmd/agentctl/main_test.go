package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"support-agent/internal/domain"
)

func TestParseTurn(t *testing.T) {
	require.Equal(t, domain.Turn{Role: domain.RoleUser, Content: "hello"}, parseTurn("hello"))
	require.Equal(t, domain.Turn{Role: domain.RoleAssistant, Content: "How can I help?"}, parseTurn("assistant: How can I help?"))
	require.Equal(t, domain.Turn{Role: domain.RoleUser, Content: "Error: save failed"}, parseTurn("Error: save failed"))
}

func TestImageDataURL(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "shot.png")
	// PNG signature followed by an IHDR chunk header.
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0o600))

	uri, err := imageDataURL(png)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("plain text"), 0o600))
	_, err = imageDataURL(txt)
	require.Error(t, err)
}

func TestBriefFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brief.json")

	b, err := readBrief(path)
	require.NoError(t, err)
	require.Nil(t, b)

	name := "Atlas"
	require.NoError(t, writeBrief(path, domain.Brief{ProjectName: &name, Status: domain.BriefReady}))
	b, err = readBrief(path)
	require.NoError(t, err)
	require.Equal(t, "Atlas", *b.ProjectName)
	require.True(t, b.Ready())
}
