package reconcile

import (
	"reflect"
	"testing"

	"github.com/bethna/marketfeed/internal/model"
)

func tick(ts int64, price float64) model.Tick {
	return model.Tick{
		Symbol:    "ETH/USD",
		Price:     price,
		Timestamp: ts,
		Source:    model.SourceRealtime,
	}
}

func TestGroupTicks_NewBucketAfterHistory(t *testing.T) {
	// History ends at bucket 60000; ticks at 130000 and 150000 both land
	// in the next 1m bucket, 120000.
	ticks := []model.Tick{
		tick(130_000, 52),
		tick(150_000, 55),
	}

	candles := groupTicks(ticks, model.Interval1m, 60_000)
	if len(candles) != 1 {
		t.Fatalf("len = %d, want 1", len(candles))
	}
	got := candles[0]
	if got.BucketStart != 120_000 {
		t.Errorf("BucketStart = %d, want 120000", got.BucketStart)
	}
	if got.Open != 52 || got.High != 55 || got.Low != 52 || got.Close != 55 {
		t.Errorf("OHLC = %v/%v/%v/%v, want 52/55/52/55", got.Open, got.High, got.Low, got.Close)
	}
}

func TestGroupTicks_DiscardsCoveredTicks(t *testing.T) {
	ticks := []model.Tick{
		tick(30_000, 10),  // before history ends
		tick(60_000, 11),  // exactly at the last historical bucket start
		tick(130_000, 52), // after
	}

	candles := groupTicks(ticks, model.Interval1m, 60_000)
	if len(candles) != 1 {
		t.Fatalf("len = %d, want 1 (covered ticks discarded)", len(candles))
	}
	if candles[0].Open != 52 {
		t.Errorf("Open = %v, want 52", candles[0].Open)
	}
}

func TestGroupTicks_MultipleBucketsOrdered(t *testing.T) {
	ticks := []model.Tick{
		tick(250_000, 30), // bucket 240000, arrives first
		tick(130_000, 10), // bucket 120000
		tick(190_000, 20), // bucket 180000
	}

	candles := groupTicks(ticks, model.Interval1m, 0)
	if len(candles) != 3 {
		t.Fatalf("len = %d, want 3", len(candles))
	}
	wantBuckets := []int64{120_000, 180_000, 240_000}
	for i, want := range wantBuckets {
		if candles[i].BucketStart != want {
			t.Errorf("candles[%d].BucketStart = %d, want %d", i, candles[i].BucketStart, want)
		}
	}
}

func TestGroupTicks_VolumeProxy(t *testing.T) {
	ticks := []model.Tick{
		tick(121_000, 1),
		tick(122_000, 2),
		tick(123_000, 3),
	}

	candles := groupTicks(ticks, model.Interval1m, 0)
	if len(candles) != 1 {
		t.Fatalf("len = %d, want 1", len(candles))
	}
	if candles[0].Volume != 3*tickVolumeProxy {
		t.Errorf("Volume = %v, want %v", candles[0].Volume, 3*tickVolumeProxy)
	}
}

func TestMergeCandles_ExtendsSharedBucket(t *testing.T) {
	historical := []model.Candle{
		{BucketStart: 60_000, Open: 50, High: 53, Low: 49, Close: 51, Volume: 500},
	}
	realtime := []model.Candle{
		{BucketStart: 60_000, Open: 52, High: 55, Low: 48, Close: 55, Volume: 200},
	}

	merged := mergeCandles(historical, realtime, 10)
	if len(merged) != 1 {
		t.Fatalf("len = %d, want 1", len(merged))
	}
	got := merged[0]
	if got.Open != 50 {
		t.Errorf("Open = %v, want historical open 50", got.Open)
	}
	if got.High != 55 || got.Low != 48 {
		t.Errorf("High/Low = %v/%v, want 55/48", got.High, got.Low)
	}
	if got.Close != 55 {
		t.Errorf("Close = %v, want realtime close 55", got.Close)
	}
	if got.Volume != 700 {
		t.Errorf("Volume = %v, want 700", got.Volume)
	}
}

func TestMergeCandles_AppendsAndTrims(t *testing.T) {
	historical := []model.Candle{
		{BucketStart: 0, Open: 1, High: 1, Low: 1, Close: 1},
		{BucketStart: 60_000, Open: 2, High: 2, Low: 2, Close: 2},
	}
	realtime := []model.Candle{
		{BucketStart: 120_000, Open: 3, High: 3, Low: 3, Close: 3},
	}

	merged := mergeCandles(historical, realtime, 2)
	if len(merged) != 2 {
		t.Fatalf("len = %d, want 2 (trimmed to limit)", len(merged))
	}
	if merged[0].BucketStart != 60_000 || merged[1].BucketStart != 120_000 {
		t.Errorf("kept buckets %d, %d; want 60000, 120000", merged[0].BucketStart, merged[1].BucketStart)
	}
}

func TestMergeCandles_OutputStrictlyOrdered(t *testing.T) {
	historical := []model.Candle{
		{BucketStart: 60_000, Open: 1, High: 1, Low: 1, Close: 1},
	}
	// Duplicate realtime buckets collapse into one candle instead of
	// producing repeated bucket starts.
	realtime := []model.Candle{
		{BucketStart: 120_000, Open: 2, High: 2, Low: 2, Close: 2, Volume: 100},
		{BucketStart: 120_000, Open: 3, High: 5, Low: 1, Close: 4, Volume: 100},
	}

	merged := mergeCandles(historical, realtime, 10)
	if !model.SeriesOrdered(merged) {
		t.Fatalf("merged series not strictly ordered: %+v", merged)
	}
	if len(merged) != 2 {
		t.Fatalf("len = %d, want 2", len(merged))
	}
	live := merged[1]
	if live.Open != 2 || live.High != 5 || live.Low != 1 || live.Close != 4 || live.Volume != 200 {
		t.Errorf("collapsed candle = %+v, want open 2 high 5 low 1 close 4 volume 200", live)
	}
}

func TestMergeCandles_HistoricalInputUntouched(t *testing.T) {
	historical := []model.Candle{
		{BucketStart: 60_000, Open: 50, High: 53, Low: 49, Close: 51, Volume: 500},
	}
	snapshot := model.CloneCandles(historical)

	realtime := []model.Candle{
		{BucketStart: 60_000, Open: 52, High: 99, Low: 1, Close: 55, Volume: 200},
	}
	mergeCandles(historical, realtime, 10)

	if !reflect.DeepEqual(historical, snapshot) {
		t.Errorf("historical input mutated: %+v", historical)
	}
}

func TestTickBuffer_BoundedAndOrdered(t *testing.T) {
	b := newTickBuffer(3)
	for i := int64(1); i <= 5; i++ {
		b.Append(tick(i, float64(i)))
	}

	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	got := b.Snapshot()
	for i, want := range []int64{3, 4, 5} {
		if got[i].Timestamp != want {
			t.Errorf("Snapshot[%d].Timestamp = %d, want %d", i, got[i].Timestamp, want)
		}
	}
}
