package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const pageLevelSubmit = `<div class="code-section"><p>Enter code to proceed</p><input id="code" placeholder="code"><button id="page-submit">Submit</button></div>`

func TestModalSolver_InModalConfirmOnly(t *testing.T) {
	p := newFakePage(`<html><body>` + pageLevelSubmit + `
<div class="modal" role="dialog" id="choice">
  <h3>Please Select an Option</h3>
  <div class="option" id="opt-a">Option A</div>
  <div class="option" id="opt-b" data-correct="true">Option B - Correct Choice</div>
  <button id="modal-submit">Submit</button>
</div>
</body></html>`)

	present, err := NewModalSolver(p, zaptest.NewLogger(t)).Solve(context.Background())
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, []string{"opt-b", "modal-submit"}, p.Clicks())
	assert.NotContains(t, p.Clicks(), "page-submit")
	assert.Len(t, p.scrolls, 1)
}

func TestModalSolver_OptionSelection(t *testing.T) {
	tests := []struct {
		name    string
		options string
		want    string
	}{
		{
			name:    "data-answer marker",
			options: `<label id="o1"><input type="radio" name="c"> First</label><label id="o2" data-answer="correct"><input type="radio" name="c"> Second</label>`,
			want:    "o2",
		},
		{
			name:    "radio value",
			options: `<input type="radio" id="r1" value="wrong"><input type="radio" id="r2" value="correct-choice">`,
			want:    "r2",
		},
		{
			name:    "phrase",
			options: `<li id="l1">Option A</li><li id="l2">Option C - the correct answer</li>`,
			want:    "l2",
		},
		{
			name:    "incorrect is not correct",
			options: `<li id="l1">Option A - Incorrect</li><li id="l2">Option B is correct</li>`,
			want:    "l2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePage(`<html><body><div role="dialog" class="modal"><h3>Select your choice</h3><ul>` +
				tt.options + `</ul><button id="go">Submit &amp; Continue</button></div></body></html>`)

			present, err := NewModalSolver(p, zaptest.NewLogger(t)).Solve(context.Background())
			require.NoError(t, err)
			assert.True(t, present)
			require.Len(t, p.Clicks(), 2)
			assert.Equal(t, tt.want, p.Clicks()[0])
			assert.Equal(t, "go", p.Clicks()[1])
		})
	}
}

func TestModalSolver_NoModal(t *testing.T) {
	p := newFakePage(`<html><body>` + pageLevelSubmit + `</body></html>`)
	present, err := NewModalSolver(p, nil).Solve(context.Background())
	require.NoError(t, err)
	assert.False(t, present)
	assert.Empty(t, p.Clicks())
}

func TestModalSolver_MissingConfirm(t *testing.T) {
	p := newFakePage(`<html><body><div role="dialog"><h3>Please select an option</h3><div class="option" data-correct="true" id="o">B</div></div></body></html>`)
	present, err := NewModalSolver(p, nil).Solve(context.Background())
	assert.True(t, present)
	assert.ErrorIs(t, err, errNoConfirm)
}
