package symbols

import "sort"

// Universe names a built-in symbol list
type Universe string

const (
	UniverseTest      Universe = "test" // small set for quick runs
	UniverseNasdaq100 Universe = "nasdaq100"
	UniverseDow30     Universe = "dow30"
	UniverseSectors   Universe = "sectors" // SPDR sector ETFs
)

var universes = map[Universe][]string{
	UniverseTest:      testSymbols,
	UniverseNasdaq100: nasdaq100Symbols,
	UniverseDow30:     dow30Symbols,
	UniverseSectors:   sectorSymbols,
}

// GetUniverse returns a copy of a built-in list, nil when unknown
func GetUniverse(u Universe) []string {
	list, ok := universes[u]
	if !ok {
		return nil
	}
	return append([]string(nil), list...)
}

// Universes lists the built-in universe names
func Universes() []string {
	names := make([]string, 0, len(universes))
	for u := range universes {
		names = append(names, string(u))
	}
	sort.Strings(names)
	return names
}

var testSymbols = []string{
	"AAPL", "MSFT", "NVDA", "AMZN", "GOOGL",
	"META", "TSLA", "AMD", "NFLX", "JPM",
}

// nasdaq100Symbols as of the 2025 annual reconstitution
var nasdaq100Symbols = []string{
	"AAPL", "ABNB", "ADBE", "ADI", "ADP", "ADSK", "AEP", "AMAT", "AMD", "AMGN",
	"AMZN", "APP", "ARM", "ASML", "AVGO", "AXON", "AZN", "BIIB", "BKNG", "BKR",
	"CCEP", "CDNS", "CDW", "CEG", "CHTR", "CMCSA", "COST", "CPRT", "CRWD", "CSCO",
	"CSGP", "CSX", "CTAS", "CTSH", "DASH", "DDOG", "DXCM", "EA", "EXC", "FANG",
	"FAST", "FTNT", "GEHC", "GFS", "GILD", "GOOG", "GOOGL", "HON", "IDXX", "INTC",
	"INTU", "ISRG", "KDP", "KHC", "KLAC", "LIN", "LRCX", "LULU", "MAR", "MCHP",
	"MDLZ", "MELI", "META", "MNST", "MRVL", "MSFT", "MSTR", "MU", "NFLX", "NVDA",
	"NXPI", "ODFL", "ON", "ORLY", "PANW", "PAYX", "PCAR", "PDD", "PEP", "PLTR",
	"PYPL", "QCOM", "REGN", "ROP", "ROST", "SBUX", "SHOP", "SNPS", "TEAM", "TMUS",
	"TRI", "TSLA", "TTD", "TTWO", "TXN", "VRSK", "VRTX", "WBD", "WDAY", "XEL", "ZS",
}

var dow30Symbols = []string{
	"AAPL", "AMGN", "AMZN", "AXP", "BA", "CAT", "CRM", "CSCO", "CVX", "DIS",
	"GS", "HD", "HON", "IBM", "JNJ", "JPM", "KO", "MCD", "MMM", "MRK",
	"MSFT", "NKE", "NVDA", "PG", "SHW", "TRV", "UNH", "V", "VZ", "WMT",
}

var sectorSymbols = []string{
	"XLB", "XLC", "XLE", "XLF", "XLI", "XLK", "XLP", "XLRE", "XLU", "XLV", "XLY",
}
