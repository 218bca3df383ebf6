package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideTable(t *testing.T) {
	tests := []struct {
		mode    Mode
		outcome Outcome
		want    Plan
	}{
		{Raw, NoMessages, Plan{Raw: true}},
		{Raw, NoTemplate, Plan{Raw: true}},
		{Raw, RenderFailed, Plan{Raw: true}},
		{Raw, Rendered, Plan{Raw: true}},

		{Template, NoMessages, Plan{Raw: true}},
		{Template, NoTemplate, Plan{Raw: true, Warn: WarnNoTemplateFallback}},
		{Template, RenderFailed, Plan{Raw: true, Warn: WarnRenderFailed}},
		{Template, Rendered, Plan{Template: true}},

		{Either, NoMessages, Plan{Raw: true}},
		{Either, NoTemplate, Plan{Raw: true}},
		{Either, RenderFailed, Plan{Raw: true}},
		{Either, Rendered, Plan{Template: true}},

		{Both, NoMessages, Plan{Raw: true}},
		{Both, NoTemplate, Plan{Raw: true, Warn: WarnNoTemplate}},
		{Both, RenderFailed, Plan{Raw: true, Warn: WarnRenderFailed}},
		{Both, Rendered, Plan{Raw: true, Template: true}},

		{BothAuto, NoMessages, Plan{Raw: true}},
		{BothAuto, NoTemplate, Plan{Raw: true}},
		{BothAuto, RenderFailed, Plan{Raw: true}},
		{BothAuto, Rendered, Plan{Raw: true, Template: true}},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.mode, tt.outcome), "outcome %d", tt.outcome)
		})
	}
}

func TestDecideRowCounts(t *testing.T) {
	rows := func(p Plan) int {
		n := 0
		if p.Raw {
			n++
		}
		if p.Template {
			n++
		}
		return n
	}
	for _, m := range Modes {
		for _, o := range []Outcome{NoMessages, NoTemplate, RenderFailed, Rendered} {
			assert.GreaterOrEqual(t, rows(Decide(m, o)), 1, "%s/%d emits nothing", m, o)
		}
	}
	assert.Equal(t, 2, rows(Decide(Both, Rendered)))
	assert.Equal(t, 2, rows(Decide(BothAuto, Rendered)))
	assert.Equal(t, 1, rows(Decide(Either, Rendered)))
	assert.Equal(t, 1, rows(Decide(Template, Rendered)))
}

func TestEffective(t *testing.T) {
	assert.Equal(t, Raw, Effective(Template, false))
	assert.Equal(t, Raw, Effective(BothAuto, false))
	assert.Equal(t, Raw, Effective(Raw, false))
	assert.Equal(t, Both, Effective(Both, true))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Both-Auto")
	require.NoError(t, err)
	assert.Equal(t, BothAuto, m)

	_, err = ParseMode("sometimes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raw, template, either, both, both-auto")
}

func TestParseWrapPolicy(t *testing.T) {
	for _, v := range []string{"yes", "no", "auto"} {
		p, err := ParseWrapPolicy(v)
		require.NoError(t, err)
		assert.Equal(t, WrapPolicy(v), p)
	}
	_, err := ParseWrapPolicy("maybe")
	assert.Error(t, err)
}
