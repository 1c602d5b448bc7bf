package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	values map[string]string
	err    error
}

func (m *memStore) Get(ctx context.Context, key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) Set(ctx context.Context, key, value string) error {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

func TestInt_StoredValue(t *testing.T) {
	p := New(&memStore{values: map[string]string{KeyDefaultBiddingWindowHours: "48"}}, nil)
	assert.Equal(t, 48, p.Int(context.Background(), KeyDefaultBiddingWindowHours))
}

func TestInt_DefaultWhenAbsent(t *testing.T) {
	p := New(&memStore{}, nil)
	ctx := context.Background()
	assert.Equal(t, 24, p.Int(ctx, KeyDefaultBiddingWindowHours))
	assert.Equal(t, 2, p.Int(ctx, KeyReturnBiddingWindowHours))
	assert.Equal(t, 30, p.Int(ctx, KeyAcceptanceWindowMinutes))
}

func TestInt_DefaultWhenGarbled(t *testing.T) {
	p := New(&memStore{values: map[string]string{KeyAcceptanceWindowMinutes: "soon"}}, nil)
	assert.Equal(t, 30, p.Int(context.Background(), KeyAcceptanceWindowMinutes))
}

func TestPercent_Clamped(t *testing.T) {
	tests := []struct {
		stored string
		want   int
	}{
		{"50", 50},
		{"0", 1},
		{"-10", 1},
		{"250", 100},
	}
	for _, tt := range tests {
		p := New(&memStore{values: map[string]string{KeyMinBidPercent: tt.stored}}, nil)
		assert.Equal(t, tt.want, p.Percent(context.Background(), KeyMinBidPercent), "stored %q", tt.stored)
	}
}

func TestBool_DefaultAndStored(t *testing.T) {
	ctx := context.Background()

	p := New(&memStore{}, nil)
	assert.True(t, p.Bool(ctx, KeyEnablePostcodeFiltering))

	p = New(&memStore{values: map[string]string{KeyEnablePostcodeFiltering: "false"}}, nil)
	assert.False(t, p.Bool(ctx, KeyEnablePostcodeFiltering))
}

func TestInt_DefaultOnStoreError(t *testing.T) {
	p := New(&memStore{err: assert.AnError}, nil)
	assert.Equal(t, 50, p.Int(context.Background(), KeyMinBidPercent))
}

func TestUpdate_RejectsUnknownKey(t *testing.T) {
	p := New(&memStore{}, nil)
	err := p.Update(context.Background(), "NOT_A_KEY", "1")
	assert.Error(t, err)
}

func TestUpdate_Roundtrip(t *testing.T) {
	st := &memStore{}
	p := New(st, nil)
	ctx := context.Background()

	assert.NoError(t, p.Update(ctx, KeyMaxBidPercent, "80"))
	assert.Equal(t, 80, p.Percent(ctx, KeyMaxBidPercent))
}
