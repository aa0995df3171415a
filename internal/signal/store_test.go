package signal

import (
	"testing"
	"time"
)

func TestShouldFireNewSignal(t *testing.T) {
	st := NewStore()
	key := Key{Symbol: "BTCUSDT", Timeframe: "4h"}

	if !st.ShouldFire(key, Up, values(105, 100, 98), testStrategy()) {
		t.Fatal("brand-new signal must fire")
	}
	st.Record(key, Up, time.Now())

	if st.Len() != 1 {
		t.Fatalf("Len = %d, want 1", st.Len())
	}
}

func TestShouldFireNoneDirection(t *testing.T) {
	st := NewStore()
	key := Key{Symbol: "BTCUSDT", Timeframe: "4h"}
	if st.ShouldFire(key, None, values(105, 100, 98), testStrategy()) {
		t.Fatal("direction none must never fire")
	}
}

func TestSuppressionAndDecayCycle(t *testing.T) {
	st := NewStore()
	strat := testStrategy()
	key := Key{Symbol: "BTCUSDT", Timeframe: "4h"}

	// Fires and is recorded.
	if !st.ShouldFire(key, Up, values(105, 100, 98), strat) {
		t.Fatal("initial crossover must fire")
	}
	st.Record(key, Up, time.Now())

	// Still above every scaled reference (104 > 102, 104 > 99.96): suppressed.
	if st.ShouldFire(key, None, values(104, 100, 98), strat) {
		t.Fatal("undecayed signal must stay suppressed")
	}
	if st.Len() != 1 {
		t.Fatal("suppression slot must survive while strength holds")
	}

	// 101 fails 101 > 102 against MA25: strength collapsed, slot resets.
	if st.ShouldFire(key, None, values(101, 100, 98), strat) {
		t.Fatal("decayed cycle classified none must not fire")
	}
	if st.Len() != 0 {
		t.Fatal("decay must clear the suppression slot")
	}

	// Fresh crossover after the reset fires again.
	if !st.ShouldFire(key, Up, values(106, 100, 98), strat) {
		t.Fatal("crossover after decay must fire again")
	}
}

func TestDecayedSlotFiresInSameCycle(t *testing.T) {
	st := NewStore()
	strat := testStrategy()
	key := Key{Symbol: "ETHUSDT", Timeframe: "4h"}

	st.Record(key, Up, time.Now())

	// Strength collapsed upward but a fresh downward crossover arrives in the
	// same cycle: the reset clears the slot and the new direction fires.
	if !st.ShouldFire(key, Down, values(95, 100, 102), strat) {
		t.Fatal("fresh signal must fire immediately after decay reset")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	st := NewStore()
	strat := testStrategy()
	btc := Key{Symbol: "BTCUSDT", Timeframe: "4h"}
	eth := Key{Symbol: "ETHUSDT", Timeframe: "4h"}

	st.Record(btc, Up, time.Now())

	if st.ShouldFire(btc, Up, values(105, 100, 98), strat) {
		t.Fatal("recorded key must be suppressed")
	}
	if !st.ShouldFire(eth, Up, values(105, 100, 98), strat) {
		t.Fatal("other keys must not be affected")
	}
}

func TestResetIdempotent(t *testing.T) {
	st := NewStore()
	key := Key{Symbol: "BTCUSDT", Timeframe: "4h"}
	st.Record(key, Down, time.Now())
	st.Reset(key)
	st.Reset(key)
	if st.Len() != 0 {
		t.Fatal("reset must remove the entry")
	}
}
