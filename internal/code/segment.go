package code

// Segment is the market board an instrument trades on, derived from its code.
type Segment string

const (
	SegmentShanghaiMain   Segment = "shanghai_main"
	SegmentShenzhenMain   Segment = "shenzhen_main"
	SegmentChiNext        Segment = "chinext"
	SegmentSTAR           Segment = "star"
	SegmentBeijing        Segment = "beijing"
	SegmentMoneyMarketETF Segment = "money_market_etf"
	SegmentOther          Segment = "other"
)

type segmentRule struct {
	prefix  string
	segment Segment
}

// segmentRules is ordered longest prefix first so the most specific rule wins.
var segmentRules = []segmentRule{
	{"688", SegmentSTAR},
	{"511", SegmentMoneyMarketETF},
	{"60", SegmentShanghaiMain},
	{"00", SegmentShenzhenMain},
	{"30", SegmentChiNext},
	{"8", SegmentBeijing},
}

// Classify maps a canonical code to its segment.
func Classify(code string) Segment {
	for _, rule := range segmentRules {
		if len(code) >= len(rule.prefix) && code[:len(rule.prefix)] == rule.prefix {
			return rule.segment
		}
	}
	return SegmentOther
}

// Tradable reports whether instruments on this segment belong in a trading universe.
func (s Segment) Tradable() bool {
	return s != SegmentMoneyMarketETF
}

// SecurityType distinguishes funds from single stocks.
type SecurityType string

const (
	SecurityETF   SecurityType = "etf"
	SecurityStock SecurityType = "stock"
)

// SecurityTypeOf infers the security type from the code range. Exchange traded
// funds use 5xxxxx on Shanghai and 15xxxx/16xxxx on Shenzhen.
func SecurityTypeOf(code string) SecurityType {
	if len(code) < 2 {
		return SecurityStock
	}
	switch {
	case code[0] == '5':
		return SecurityETF
	case code[:2] == "15" || code[:2] == "16":
		return SecurityETF
	default:
		return SecurityStock
	}
}

// Exchange returns the lower-case exchange prefix providers use to build symbols.
func Exchange(code string) string {
	if code == "" {
		return "sz"
	}
	switch code[0] {
	case '5', '6', '9':
		return "sh"
	case '4', '8':
		return "bj"
	default:
		return "sz"
	}
}

// Symbol joins the exchange prefix and the code, e.g. "sh510300".
func Symbol(code string) string {
	return Exchange(code) + code
}

// EastmoneySecID returns the "market.code" identifier used by eastmoney APIs.
func EastmoneySecID(code string) string {
	switch Exchange(code) {
	case "sh":
		return "1." + code
	default:
		return "0." + code
	}
}
