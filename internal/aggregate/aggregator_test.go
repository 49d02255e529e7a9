package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"idoScope/internal/ido"
	"idoScope/internal/model"
	"idoScope/internal/token"
)

const window0 uint64 = 1699999200 // aligned to 3600

var (
	saleContract = common.HexToAddress("0x00000000000000000000000000000000000001d0")
	saleToken    = common.HexToAddress("0x0000000000000000000000000000000000005a1e")
	daiToken     = common.HexToAddress("0x00000000000000000000000000000000000000da")
	alice        = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type fakeStore struct {
	pools   []model.SalePool
	metrics []model.SaleWindowMetrics
}

func (s *fakeStore) UpsertSalePools(_ context.Context, pools []model.SalePool) error {
	s.pools = append(s.pools, pools...)
	return nil
}

func (s *fakeStore) UpsertSaleWindowMetrics(_ context.Context, metrics []model.SaleWindowMetrics) error {
	s.metrics = append(s.metrics, metrics...)
	return nil
}

func (s *fakeStore) window(t *testing.T, poolID uint64, start uint64) model.SaleWindowMetrics {
	t.Helper()
	for _, m := range s.metrics {
		if m.PoolID == poolID && uint64(m.WindowStart.Unix()) == start {
			return m
		}
	}
	t.Fatalf("no window for pool %d at %d", poolID, start)
	return model.SaleWindowMetrics{}
}

func typedLine(t *testing.T, name string, ts uint64, payload interface{}) string {
	t.Helper()
	decoded, err := json.Marshal(payload)
	require.NoError(t, err)
	line, err := json.Marshal(model.TypedEventRecord{
		ChainID:     1,
		BlockNumber: ts - window0,
		Address:     saleContract.Hex(),
		EventName:   name,
		Timestamp:   ts,
		Decoded:     decoded,
	})
	require.NoError(t, err)
	return string(line)
}

func purchaseLine(t *testing.T, ts, poolID uint64, buyer common.Address, base, sale, fee, referralFee string) string {
	return typedLine(t, ido.EventPurchased, ts, model.PurchaseEventData{
		PoolID:      poolID,
		Buyer:       buyer.Hex(),
		BaseAmount:  base,
		SaleAmount:  sale,
		Fee:         fee,
		ReferralFee: referralFee,
	})
}

func fixtureInput(t *testing.T) string {
	lines := []string{
		typedLine(t, ido.EventPoolCreated, window0+100, model.PoolCreatedEventData{
			PoolID: 0, Owner: bob.Hex(), SaleToken: saleToken.Hex(), BaseToken: daiToken.Hex(),
			OfferingAmount: "100000000000000000000", CurveType: 0, Name: "dai-sale",
		}),
		typedLine(t, ido.EventPoolCreated, window0+100, model.PoolCreatedEventData{
			PoolID: 1, Owner: bob.Hex(), SaleToken: saleToken.Hex(), BaseToken: saleContract.Hex(),
			OfferingAmount: "100000000000000000000", CurveType: 1, Name: "eth-sale",
		}),
		purchaseLine(t, window0+120, 0, alice, "1000000", "1000000000000000000", "10000", "0"),
		purchaseLine(t, window0+130, 0, bob, "3000000", "3000000000000000000", "30000", "30000"),
		typedLine(t, ido.EventReferralSet, window0+130, model.ReferralSetEventData{User: alice.Hex(), Referrer: bob.Hex()}),
		purchaseLine(t, window0+200, 1, alice, "2000000000000000000", "4000000000000000000", "20000000000000000", "0"),
		purchaseLine(t, window0+3700, 0, alice, "5000000", "5000000000000000000", "50000", "0"),
		"{not json",
	}
	return strings.Join(lines, "\n") + "\n"
}

func newResolver() *token.Resolver {
	cache := token.NewMetaCache()
	cache.Set(daiToken, token.Meta{Address: daiToken.Hex(), Decimals: 6, Symbol: "DAI"})
	cache.Set(saleToken, token.Meta{Address: saleToken.Hex(), Decimals: 18, Symbol: "SALE"})
	return token.NewResolver(nil, cache, nil)
}

func TestAggregatorSaleWindows(t *testing.T) {
	store := &fakeStore{}
	state := &FileStateStore{Path: filepath.Join(t.TempDir(), "state.json"), Name: "sale_3600"}
	agg := NewAggregator(Config{WindowSeconds: 3600, BatchSize: 100, StateStore: state}, store, newResolver(), nil)

	sum, err := agg.Process(context.Background(), strings.NewReader(fixtureInput(t)))
	require.NoError(t, err)
	require.Equal(t, Summary{Total: 8, Purchases: 4, Pools: 2, Windows: 3, Skipped: 1, Failed: 1}, sum)

	require.Len(t, store.pools, 2)
	require.Equal(t, "dai-sale", store.pools[0].Name)
	require.Equal(t, uint8(1), store.pools[1].CurveType)

	first := store.window(t, 0, window0)
	require.Equal(t, uint64(2), first.PurchaseCount)
	require.Equal(t, uint64(2), first.UniqueBuyers)
	require.Equal(t, "4", first.BaseRaised)
	require.Equal(t, "4", first.SaleSold)
	require.Equal(t, "0.04", first.Fees)
	require.Equal(t, "0.03", first.ReferralFees)
	require.NotNil(t, first.AvgPrice)
	require.Equal(t, "1", *first.AvgPrice)
	require.Equal(t, "4", first.SoldCumulative)
	require.Equal(t, int64(3600), first.WindowSizeSecs)
	require.Equal(t, int64(window0+3600), first.WindowEnd.Unix())

	second := store.window(t, 0, window0+3600)
	require.Equal(t, uint64(1), second.PurchaseCount)
	require.Equal(t, "5", second.BaseRaised)
	require.Equal(t, "9", second.SoldCumulative)

	native := store.window(t, 1, window0)
	require.Equal(t, "2", native.BaseRaised)
	require.Equal(t, "0.02", native.Fees)
	require.Equal(t, "0.5", *native.AvgPrice)

	// Both pools still have an open window starting at window0.
	last, ok, err := state.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, window0-1, last)
}

func TestAggregatorRecomputeKeepsCumulative(t *testing.T) {
	store := &fakeStore{}
	agg := NewAggregator(Config{WindowSeconds: 3600, RecomputeFrom: window0 + 3600}, store, newResolver(), nil)

	sum, err := agg.Process(context.Background(), strings.NewReader(fixtureInput(t)))
	require.NoError(t, err)
	require.Equal(t, 1, sum.Purchases)
	require.Equal(t, 2, sum.Pools)
	require.Len(t, store.metrics, 1)
	require.Equal(t, "5", store.metrics[0].SaleSold)
	require.Equal(t, "9", store.metrics[0].SoldCumulative)
}

func TestAggregatorUnknownPoolDefaultsDecimals(t *testing.T) {
	store := &fakeStore{}
	agg := NewAggregator(Config{WindowSeconds: 60}, store, nil, nil)

	input := purchaseLine(t, window0+10, 7, alice, "1500000000000000000", "3000000000000000000", "0", "0")
	_, err := agg.Process(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, store.metrics, 1)
	require.Equal(t, "1.5", store.metrics[0].BaseRaised)
	require.Equal(t, "0.5", *store.metrics[0].AvgPrice)
	require.Empty(t, store.pools)
}

func TestAggregatorBatchFlushSavesState(t *testing.T) {
	store := &fakeStore{}
	state := &FileStateStore{Path: filepath.Join(t.TempDir(), "state.json"), Name: "sale_60"}
	agg := NewAggregator(Config{WindowSeconds: 60, BatchSize: 1, StateStore: state}, store, newResolver(), nil)

	var buf bytes.Buffer
	for _, ts := range []uint64{window0 + 5, window0 + 65, window0 + 125} {
		buf.WriteString(purchaseLine(t, ts, 0, alice, "1000000", "1000000000000000000", "0", "0"))
		buf.WriteString("\n")
	}

	sum, err := agg.Process(context.Background(), &buf)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Windows)
	require.Len(t, store.metrics, 3)
	require.Equal(t, "3", store.metrics[2].SoldCumulative)

	last, ok, err := state.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, window0+120-1, last)
}

func TestAggregatorRejectsBadConfig(t *testing.T) {
	_, err := NewAggregator(Config{WindowSeconds: 60}, nil, nil, nil).Process(context.Background(), strings.NewReader(""))
	require.Error(t, err)

	_, err = NewAggregator(Config{}, &fakeStore{}, nil, nil).Process(context.Background(), strings.NewReader(""))
	require.Error(t, err)
}

func TestFileStateStoreKeepsNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	a := &FileStateStore{Path: path, Name: "a"}
	b := &FileStateStore{Path: path, Name: "b"}

	require.NoError(t, a.Save(context.Background(), 10))
	require.NoError(t, b.Save(context.Background(), 20))

	got, ok, err := a.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), got)

	_, ok, err = (&FileStateStore{Path: path, Name: "c"}).Load(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}
