package scope_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"crewline/internal/scope"
)

func TestMatchSingleStarStopsAtSeparator(t *testing.T) {
	assert.True(t, scope.Match("src/*.ts", "src/api.ts"))
	assert.False(t, scope.Match("src/*.ts", "src/routes/api.ts"))
	assert.True(t, scope.Match("src/*/index.ts", "src/routes/index.ts"))
	assert.False(t, scope.Match("src/*/index.ts", "src/a/b/index.ts"))
}

func TestMatchDoubleStarCrossesSeparator(t *testing.T) {
	assert.True(t, scope.Match("src/**", "src/routes/api.ts"))
	assert.True(t, scope.Match("**/api.ts", "src/routes/api.ts"))
	assert.True(t, scope.Match("**", "anything/at/all"))
	assert.False(t, scope.Match("src/**", "lib/api.ts"))
}

func TestMatchLiteral(t *testing.T) {
	assert.True(t, scope.Match("docs/readme.md", "docs/readme.md"))
	assert.False(t, scope.Match("docs/readme.md", "docs/readme.md.bak"))
	// regexp metacharacters in the literal part stay literal
	assert.True(t, scope.Match("pkg/a+b/(x).go", "pkg/a+b/(x).go"))
	assert.False(t, scope.Match("pkg/a.b", "pkg/axb"))
}

func TestLiteralPrefix(t *testing.T) {
	assert.Equal(t, "src/", scope.LiteralPrefix("src/**"))
	assert.Equal(t, "src/foo/", scope.LiteralPrefix("src/foo/*.ts"))
	assert.Equal(t, "docs/a.md", scope.LiteralPrefix("docs/a.md"))
	assert.Equal(t, "", scope.LiteralPrefix("**/x"))
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name string
		a, b []string
		want bool
	}{
		{"glob covers literal", []string{"src/routes/**"}, []string{"src/routes/api.ts"}, true},
		{"nested double stars via prefix rule", []string{"src/**"}, []string{"src/foo/**"}, true},
		{"disjoint trees", []string{"src/routes/**"}, []string{"docs/**"}, false},
		{"identical literals", []string{"go.mod"}, []string{"go.mod"}, true},
		{"bare double star overlaps everything", []string{"**"}, []string{"internal/engine/lease.go"}, true},
		{"empty scope never overlaps", nil, []string{"src/**"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, scope.Overlaps(tc.a, tc.b))
			// symmetry
			assert.Equal(t, tc.want, scope.Overlaps(tc.b, tc.a))
		})
	}
}
