package skills

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseInvocationSimpleName(t *testing.T) {
	inv, ok := ParseInvocation("/deploy-check prod-host /health")
	assert.True(t, ok)
	assert.Equal(t, "deploy-check", inv.Name)
	assert.Equal(t, "prod-host /health", inv.Args)
}

func TestParseInvocationQualifiedName(t *testing.T) {
	inv, ok := ParseInvocation("/infra:deploy-check prod-host")
	assert.True(t, ok)
	assert.Equal(t, "infra:deploy-check", inv.Name)
	assert.Equal(t, "prod-host", inv.Args)
}

func TestParseInvocationNoArgs(t *testing.T) {
	inv, ok := ParseInvocation("/status")
	assert.True(t, ok)
	assert.Equal(t, "status", inv.Name)
	assert.Equal(t, "", inv.Args)
}

func TestParseInvocationTrimsSurroundingWhitespace(t *testing.T) {
	inv, ok := ParseInvocation("   /status   \n")
	assert.True(t, ok)
	assert.Equal(t, "status", inv.Name)
	assert.Equal(t, "", inv.Args)
}

func TestParseInvocationRejectsNonSlashMessage(t *testing.T) {
	_, ok := ParseInvocation("hey can you run /status")
	assert.False(t, ok)
}

func TestParseInvocationRejectsBareSlash(t *testing.T) {
	_, ok := ParseInvocation("/")
	assert.False(t, ok)
}

func TestParseInvocationRejectsTwoColons(t *testing.T) {
	_, ok := ParseInvocation("/a:b:c arg")
	assert.False(t, ok)
}

func TestParseInvocationRejectsEmptyPluginOrSkill(t *testing.T) {
	_, ok := ParseInvocation("/:skill arg")
	assert.False(t, ok)

	_, ok = ParseInvocation("/plugin: arg")
	assert.False(t, ok)
}

func TestParseInvocationStopsNameAtUppercaseOrSpace(t *testing.T) {
	inv, ok := ParseInvocation("/deploy-check!extra")
	assert.True(t, ok)
	assert.Equal(t, "deploy-check", inv.Name)
	assert.Equal(t, "!extra", inv.Args)
}
