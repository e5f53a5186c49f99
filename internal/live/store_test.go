/*
 * Copyright (c) 2024. Anton Starikov -- All Rights Reserved
 *
 * This file is part of MHPBC project.
 *
 * MHPBC is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as the Free Software Foundation,
 * either version 3 of the License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package live

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/antst/mhpbc/internal/feed"
	"github.com/antst/mhpbc/internal/logger"
)

func TestQuantityNames(t *testing.T) {
	for _, q := range All() {
		parsed, err := ParseQuantity(q.String())
		require.NoError(t, err)
		assert.Equal(t, q, parsed)
	}
	_, err := ParseQuantity("nope")
	assert.Error(t, err)
	assert.Equal(t, "pump_out", PumpOut.String())
}

func TestGetBeforeUpdate(t *testing.T) {
	s := NewStore()
	_, err := s.Get(PumpIn)
	assert.True(t, errors.Is(err, ErrNotYetKnown))

	s.Update(PumpIn, 30.5)
	v, err := s.Get(PumpIn)
	require.NoError(t, err)
	assert.Equal(t, 30.5, v)
}

func TestGenerationAdvances(t *testing.T) {
	s := NewStore()
	g0 := s.Generation()
	s.Update(Flow, 1)
	s.Touch()
	assert.Equal(t, g0+2, s.Generation())
	assert.False(t, s.Known(Power))
}

func TestChangedIsClosedByUpdate(t *testing.T) {
	s := NewStore()
	ch := s.Changed()
	select {
	case <-ch:
		t.Fatal("closed before update")
	default:
	}
	s.Update(Power, 2)
	select {
	case <-ch:
	default:
		t.Fatal("not closed after update")
	}
}

func TestWaitForChangeAllWaiters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	done := make(chan error, 3)
	for i := 0; i < 3; i++ {
		ch := s.Changed()
		go func() {
			<-ch
			done <- nil
		}()
	}
	s.Touch()
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("waiter not woken")
		}
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, s.WaitForChange(cctx), context.Canceled)
}

func TestWaitForFirstValue(t *testing.T) {
	s := NewStore()
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Update(Water, 1)
		time.Sleep(10 * time.Millisecond)
		s.Update(Ice, 0)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.WaitForFirstValue(ctx, Ice))
	assert.True(t, s.Known(Water))
}

func TestAwaitBarrierTimeout(t *testing.T) {
	s := NewStore()
	s.Update(PumpIn, 20)

	err := s.AwaitBarrier(context.Background(), []Quantity{PumpIn, PumpOut, Flow}, 50*time.Millisecond)
	var te *StartupTimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, []Quantity{PumpOut, Flow}, te.Missing)
	assert.Contains(t, te.Error(), "pump_out, flow")
}

func TestAwaitBarrierReportsMissing(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	defer logger.Replace(zap.New(core).Sugar())()

	s := NewStore()
	s.Update(PumpIn, 20)
	_ = s.AwaitBarrier(context.Background(), []Quantity{PumpIn, Ice}, 1500*time.Millisecond)

	waiting := logs.FilterMessage("Waiting for: ice").Len()
	assert.GreaterOrEqual(t, waiting, 2)
}

func TestAwaitBarrierCompletes(t *testing.T) {
	s := NewStore()
	go func() {
		s.Update(PumpIn, 20)
		s.Update(PumpOut, 25)
	}()
	err := s.AwaitBarrier(context.Background(), []Quantity{PumpIn, PumpOut}, time.Second)
	assert.NoError(t, err)
}

func TestSnapshotAndDump(t *testing.T) {
	s := NewStore()
	s.Restore(map[Quantity]float64{MainSwitch: 1, PumpOut: 40, Ice: 0})

	v := s.Snapshot()
	assert.True(t, v.Main)
	assert.False(t, v.Ice)
	assert.Equal(t, 40.0, v.Out)

	assert.Equal(t, map[string]float64{"main": 1, "pump_out": 40, "ice": 0}, s.Dump())
}

func TestObserverCalled(t *testing.T) {
	s := NewStore()
	calls := 0
	s.SetObserver(func() { calls++ })
	s.Update(Power, 1)
	s.Touch()
	assert.Equal(t, 2, calls)
}

func TestWatchFeedsStore(t *testing.T) {
	f := feed.NewFake()
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Watch(ctx, f, s, PumpOut, "heat/out") }()

	f.Publish("heat/out", 33)
	ctx2, cancel2 := context.WithTimeout(ctx, time.Second)
	defer cancel2()
	require.NoError(t, s.WaitForFirstValue(ctx2, PumpOut))
	v, _ := s.Get(PumpOut)
	assert.Equal(t, 33.0, v)

	cancel()
	assert.NoError(t, <-done)
}
