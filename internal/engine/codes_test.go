package engine

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestParseStageCodes(t *testing.T) {
	thirty := make([]string, 30)
	for i := range thirty {
		thirty[i] = fmt.Sprintf(`"CODE%02dX"`, i+1)
	}

	tests := []struct {
		name string
		raw  string
		want map[int]string
	}{
		{
			name: "step keys",
			raw:  `{"step1":"ABC123","step_2":"DEF456","challenge_code_step_3":"GHI789"}`,
			want: map[int]string{1: "ABC123", 2: "DEF456", 3: "GHI789"},
		},
		{
			name: "bare digit keys nested",
			raw:  `{"data":{"codes":{"4":"JKL012","5":"MNO345"}}}`,
			want: map[int]string{4: "JKL012", 5: "MNO345"},
		},
		{
			name: "array of thirty strings",
			raw:  "[" + strings.Join(thirty, ",") + "]",
			want: func() map[int]string {
				m := map[int]string{}
				for i := 1; i <= 30; i++ {
					m[i] = fmt.Sprintf("CODE%02dX", i)
				}
				return m
			}(),
		},
		{
			name: "out of range stage ignored",
			raw:  `{"step31":"ZZZ999","step0":"YYY888","step7":"QRS678"}`,
			want: map[int]string{7: "QRS678"},
		},
		{
			name: "values with spaces ignored",
			raw:  `{"step1":"not a code","step2":"TUV901"}`,
			want: map[int]string{2: "TUV901"},
		},
		{name: "not json", raw: `<html>`, want: nil},
		{name: "no codes", raw: `{"status":"ok"}`, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseStageCodes([]byte(tt.raw), TotalStages)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseStageCodes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNetworkCache(t *testing.T) {
	c := NewNetworkCache(TotalStages, zaptest.NewLogger(t))

	assert.Equal(t, 2, c.Ingest("https://x/api/a", []byte(`{"step1":"ABC123","step2":"DEF456"}`)))
	assert.Equal(t, 0, c.Ingest("https://x/api/a", []byte(`{"step1":"ABC123"}`)), "unchanged entry is not counted")

	// Latest wins.
	assert.Equal(t, 1, c.Ingest("https://x/api/b", []byte(`{"step1":"XYZ789"}`)))
	code, ok := c.Lookup(1)
	assert.True(t, ok)
	assert.Equal(t, "XYZ789", code)

	_, ok = c.Lookup(3)
	assert.False(t, ok)

	big := make([]byte, maxPayloadBytes+1)
	assert.Equal(t, 0, c.Ingest("https://x/big", big))

	c.Reset()
	assert.Equal(t, 0, c.Len())
}

func TestNetworkCache_ConcurrentIngest(t *testing.T) {
	c := NewNetworkCache(TotalStages, nil)
	var wg sync.WaitGroup
	for i := 1; i <= 30; i++ {
		wg.Add(2)
		go func(stage int) {
			defer wg.Done()
			c.Ingest("u", []byte(fmt.Sprintf(`{"step%d":"CODE%02dA"}`, stage, stage)))
		}(i)
		go func(stage int) {
			defer wg.Done()
			c.Lookup(stage)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 30, c.Len())
}
