package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ploke/internal/hash"
)

const sampleSource = `package sample

type Widget struct {
	Name string
}

type Greeter interface {
	Greet() string
}

func NewWidget(name string) *Widget {
	return &Widget{Name: name}
}

func (w *Widget) Greet() string {
	return "hello " + w.Name
}
`

func TestGoParserExtractsTopLevelDeclarations(t *testing.T) {
	p := NewGoParser()
	defer p.Close()

	fth := hash.Of(hash.DefaultNamespace, []byte(sampleSource))
	nodes, err := p.Parse("sample.go", []byte(sampleSource), fth)
	require.NoError(t, err)

	byCanon := make(map[string]string)
	for _, n := range nodes {
		byCanon[n.CanonPath] = n.NodeKind
		assert.Equal(t, fth, n.FileTrackingHash)
		assert.Equal(t, "sample.go", n.FilePath)
		assert.Less(t, n.StartByte, n.EndByte)
	}

	assert.Equal(t, "struct", byCanon["Widget"])
	assert.Equal(t, "interface", byCanon["Greeter"])
	assert.Equal(t, "function", byCanon["NewWidget"])
	assert.Equal(t, "method", byCanon["Widget.Greet"])
}

func TestGoParserByteRangesCoverSourceText(t *testing.T) {
	p := NewGoParser()
	defer p.Close()

	fth := hash.Of(hash.DefaultNamespace, []byte(sampleSource))
	nodes, err := p.Parse("sample.go", []byte(sampleSource), fth)
	require.NoError(t, err)

	for _, n := range nodes {
		if n.CanonPath != "NewWidget" {
			continue
		}
		text := sampleSource[n.StartByte:n.EndByte]
		assert.Contains(t, text, "func NewWidget")
		return
	}
	t.Fatal("NewWidget node not found")
}
