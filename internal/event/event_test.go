package event

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tradeloop/internal/instrument"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMarket(price string) Market {
	return Market{
		ID:         "m-" + price,
		Exchange:   "binance",
		Instrument: instrument.MustParse("BTC/USDT"),
		Type:       MarketTrade,
		Price:      decimal.RequireFromString(price),
		Volume:     decimal.NewFromInt(1),
		Time:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestKindsCoverEveryVariant(t *testing.T) {
	kinds := Kinds()
	require.Len(t, kinds, int(kindCount))
	for _, k := range kinds {
		assert.NotEqual(t, "unknown", k.String())
	}
	cmds := CommandKinds()
	require.Len(t, cmds, int(commandKindCount))
	for _, k := range cmds {
		assert.NotEqual(t, "unknown", k.String())
	}
}

func TestCodecRoundTrip(t *testing.T) {
	events := []Event{
		sampleMarket("101.5"),
		Account{
			ID: "a-1", Exchange: "binance", Type: AccountFill, OrderID: "o-1",
			Instrument: instrument.MustParse("ETH/USDT"), Side: instrument.SideBuy,
			Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(50),
			Fee: decimal.RequireFromString("0.1"), Timestamp: time.Unix(10, 0).UTC(),
		},
		Account{Exchange: "binance", Type: AccountBalance, Asset: "USDT", Balance: decimal.NewFromInt(1000)},
		ManualOrder{ID: "c-1", Exchange: "binance", Instrument: instrument.MustParse("BTC/USDT"),
			Side: instrument.SideSell, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(99)},
		ClosePosition{Exchange: "binance", Instrument: instrument.MustParse("BTC/USDT")},
		CancelOrder{Exchange: "binance", OrderID: "o-7"},
		Shutdown{Reason: "eod"},
		Shutdown{},
	}
	for _, ev := range events {
		data, err := Encode(ev)
		require.NoError(t, err)
		typ, err := TypeOf(ev)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), `{"type":"`+typ+`"`), string(data))

		back, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, ev.Kind(), back.Kind())
		assert.Equal(t, IDOf(ev), IDOf(back))
		reencoded, err := Encode(back)
		require.NoError(t, err)
		assert.JSONEq(t, string(data), string(reencoded))
	}
}

func TestSubKindTravelsNextToTypeTag(t *testing.T) {
	candle := sampleMarket("7")
	candle.Type = MarketCandle
	data, err := Encode(candle)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"market"`)
	assert.Contains(t, string(data), `"kind":"candle"`)
	back, err := Decode(data)
	require.NoError(t, err)
	m, ok := back.(Market)
	require.True(t, ok)
	assert.Equal(t, MarketCandle, m.Type)
	assert.Equal(t, KindMarket, m.Kind())

	rejected := Account{Exchange: "binance", Type: AccountRejected, OrderID: "o-9", Reason: "breaker open"}
	data, err = Encode(rejected)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"account"`)
	assert.Contains(t, string(data), `"kind":"rejected"`)
	back, err = Decode(data)
	require.NoError(t, err)
	a, ok := back.(Account)
	require.True(t, ok)
	assert.Equal(t, AccountRejected, a.Type)
	assert.Equal(t, KindAccount, a.Kind())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"price":"1"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"type":"funding"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`{"type":"market","price":"abc"}`))
	assert.Error(t, err)
}

func TestChannelFeedPreservesOrder(t *testing.T) {
	feed := NewChannelFeed(8)
	ctx := context.Background()
	for _, p := range []string{"1", "2", "3"} {
		require.NoError(t, feed.Publish(ctx, sampleMarket(p)))
	}
	assert.Equal(t, 3, feed.Len())
	for _, p := range []string{"1", "2", "3"} {
		ev, ok := feed.Next(ctx)
		require.True(t, ok)
		assert.Equal(t, "m-"+p, IDOf(ev))
	}
}

func TestChannelFeedDrainsBeforeReportingClosed(t *testing.T) {
	feed := NewChannelFeed(4)
	ctx := context.Background()
	require.NoError(t, feed.Publish(ctx, sampleMarket("1")))
	feed.Close()
	feed.Close()
	assert.True(t, feed.Closed())

	assert.ErrorIs(t, feed.Publish(ctx, sampleMarket("2")), ErrFeedClosed)

	ev, ok := feed.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, "m-1", IDOf(ev))

	_, ok = feed.Next(ctx)
	assert.False(t, ok)
	_, ok = feed.Next(ctx)
	assert.False(t, ok, "closed is sticky")
}

func TestChannelFeedRejectsNil(t *testing.T) {
	feed := NewChannelFeed(1)
	assert.Error(t, feed.Publish(context.Background(), nil))
}

func TestChannelFeedNextHonoursContext(t *testing.T) {
	feed := NewChannelFeed(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := feed.Next(ctx)
	assert.False(t, ok)
}

func TestChannelFeedManyProducers(t *testing.T) {
	feed := NewChannelFeed(0)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = feed.Publish(ctx, Shutdown{})
			}
		}()
	}
	go func() {
		wg.Wait()
		feed.Close()
	}()
	n := 0
	for {
		if _, ok := feed.Next(ctx); !ok {
			break
		}
		n++
	}
	assert.Equal(t, 100, n)
}

func TestPumpAppliesTapsInOrder(t *testing.T) {
	src := NewSliceFeed(sampleMarket("1"), sampleMarket("2"))
	dst := NewChannelFeed(4)
	var seen []string
	err := Pump(context.Background(), src, dst, func(ev Event) { seen = append(seen, IDOf(ev)) })
	require.NoError(t, err)
	assert.Equal(t, []string{"m-1", "m-2"}, seen)
	assert.Equal(t, 2, dst.Len())
	assert.Equal(t, 0, src.Remaining())
}

func TestReplayFeedSkipsMalformedLines(t *testing.T) {
	good, err := Encode(sampleMarket("10"))
	require.NoError(t, err)
	input := strings.Join([]string{
		string(good),
		"",
		"{broken",
		`{"type":"funding"}`,
		`{"type":"shutdown","reason":"done"}`,
	}, "\n")

	feed := NewReplayFeed(strings.NewReader(input))
	ctx := context.Background()

	ev, ok := feed.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, KindMarket, ev.Kind())

	ev, ok = feed.Next(ctx)
	require.True(t, ok)
	sd, isShutdown := ev.(Shutdown)
	require.True(t, isShutdown)
	assert.Equal(t, "done", sd.Reason)

	_, ok = feed.Next(ctx)
	assert.False(t, ok)
	assert.Equal(t, 2, feed.Skipped())
	assert.NoError(t, feed.Close())
}

func TestFileEventStoreReplaysAsFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal", "events.jsonl")
	store, err := NewFileEventStore(path)
	require.NoError(t, err)

	journal := NewJournalFeed(NewSliceFeed(sampleMarket("1"), CancelOrder{Exchange: "binance", OrderID: "x"}), store)
	ctx := context.Background()
	for {
		if _, ok := journal.Next(ctx); !ok {
			break
		}
	}

	loaded, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, KindMarket, loaded[0].Kind())
	assert.Equal(t, KindCommand, loaded[1].Kind())
	require.NoError(t, store.Close())

	replay, err := OpenReplay(path)
	require.NoError(t, err)
	defer replay.Close()
	n := 0
	for {
		if _, ok := replay.Next(ctx); !ok {
			break
		}
		n++
	}
	assert.Equal(t, 2, n)
}

func TestSQLiteEventStoreKeepsOrder(t *testing.T) {
	store, err := NewSQLiteEventStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer store.Close()

	in := []Event{sampleMarket("1"), Shutdown{ID: "s-1"}, sampleMarket("2")}
	for _, ev := range in {
		require.NoError(t, store.Append(ev))
	}
	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	out, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i := range in {
		assert.Equal(t, IDOf(in[i]), IDOf(out[i]))
	}
}
