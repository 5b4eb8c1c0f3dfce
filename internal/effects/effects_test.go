package effects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/moshr/internal/workerd/pixfx"
)

func TestAll_SortedAndComplete(t *testing.T) {
	var names []string
	for _, e := range All() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"blockshift", "crush", "datamosh", "invert", "lagfun", "noise", "palette", "pixelsort", "rgbshift"}, names)
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("vhs")
	assert.ErrorIs(t, err, ErrUnknownEffect)
}

func TestPreviewableEffectsExistInWorker(t *testing.T) {
	for _, name := range Previewable() {
		assert.True(t, pixfx.Has(name), "worker has no pixel effect %q", name)
	}
	assert.NotContains(t, Previewable(), Datamosh)
	assert.NotContains(t, Previewable(), Lagfun)
}

func TestWorkerEffectsExistInWorker(t *testing.T) {
	for _, e := range All() {
		if e.Backend == BackendWorker {
			assert.True(t, pixfx.Has(e.Name), e.Name)
		}
	}
}

func TestResolve_FillsDefaults(t *testing.T) {
	e, err := Lookup(BlockShift)
	require.NoError(t, err)

	got, err := e.Resolve(map[string]float64{"block": 31.6})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"block": 32, "amount": 32, "probability": 0.3, "seed": 0}, got)
}

func TestResolve_Rejects(t *testing.T) {
	e, err := Lookup(Noise)
	require.NoError(t, err)

	_, err = e.Resolve(map[string]float64{"amount": 2})
	assert.ErrorIs(t, err, ErrParamRange)

	_, err = e.Resolve(map[string]float64{"strength": 0.1})
	assert.ErrorIs(t, err, ErrUnknownParam)
}

func TestEngine_Filters(t *testing.T) {
	cases := []struct {
		name   string
		params map[string]float64
		want   EngineArgs
	}{
		{RGBShift, nil, EngineArgs{Filter: "rgbashift=rh=-8:bh=8"}},
		{Noise, map[string]float64{"amount": 0.5, "seed": 3}, EngineArgs{Filter: "noise=alls=50:allf=t+u:all_seed=3"}},
		{Lagfun, nil, EngineArgs{Filter: "lagfun=decay=0.950"}},
		{Crush, nil, EngineArgs{Filter: "scale=iw/4:-2:flags=neighbor,scale=iw*4:-2:flags=neighbor", Bitrate: "200k"}},
		{Crush, map[string]float64{"pixel": 1, "bitrate": 64}, EngineArgs{Bitrate: "64k"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := Lookup(tc.name)
			require.NoError(t, err)
			resolved, err := e.Resolve(tc.params)
			require.NoError(t, err)
			args, ok := e.Engine(resolved)
			require.True(t, ok)
			assert.Equal(t, tc.want, args)
		})
	}
}

func TestEngine_NotForOtherBackends(t *testing.T) {
	for _, name := range []string{Datamosh, PixelSort, Invert} {
		e, err := Lookup(name)
		require.NoError(t, err)
		_, ok := e.Engine(nil)
		assert.False(t, ok, name)
	}
}
