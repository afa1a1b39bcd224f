package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageReader(t *testing.T) {
	ctx := context.Background()
	filter := NewDecoyFilter(NewDecoyVocabulary())

	tests := []struct {
		name    string
		local   map[string]string
		session map[string]string
		stage   int
		want    string
		wantErr error
	}{
		{
			name:  "direct local key",
			local: map[string]string{"challenge_code_step_3": "ABC123"},
			stage: 3,
			want:  "ABC123",
		},
		{
			name:    "direct session key",
			session: map[string]string{"challenge_code_step_3": "SES456"},
			stage:   3,
			want:    "SES456",
		},
		{
			name:    "decoy in local, real code in session",
			local:   map[string]string{"challenge_code_step_3": "Continue"},
			session: map[string]string{"challenge_code_step_3": "SES456"},
			stage:   3,
			want:    "SES456",
		},
		{
			name:  "case variant key",
			local: map[string]string{"Challenge_Code_Step_8": "CAS888"},
			stage: 8,
			want:  "CAS888",
		},
		{
			name:  "json blob",
			local: map[string]string{"challengeState": `{"codes":{"step4":"JSN444","step5":"JSN555"}}`},
			stage: 5,
			want:  "JSN555",
		},
		{
			name:    "unrelated keys",
			local:   map[string]string{"theme": "dark", "session_id": "XYZ123ABC"},
			stage:   1,
			wantErr: ErrNoCandidate,
		},
		{
			name:    "other stage only",
			local:   map[string]string{"challenge_code_step_2": "ABC123"},
			stage:   1,
			wantErr: ErrNoCandidate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePage(`<html><body></body></html>`)
			for k, v := range tt.local {
				p.local[k] = v
			}
			for k, v := range tt.session {
				p.session[k] = v
			}

			got, err := NewStorageReader(p, filter, TotalStages).Candidate(ctx, tt.stage)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNetworkCacheReader(t *testing.T) {
	cache := NewNetworkCache(TotalStages, nil)
	cache.Ingest("u", []byte(`{"step1":"NET111","step2":"Proceed"}`))
	r := NewNetworkCacheReader(cache, NewDecoyFilter(NewDecoyVocabulary()))

	got, err := r.Candidate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "NET111", got)

	_, err = r.Candidate(context.Background(), 2)
	assert.ErrorIs(t, err, ErrNoCandidate, "decoy must not be forced through")

	_, err = r.Candidate(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNoCandidate)
}
