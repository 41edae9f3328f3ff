package domain

// Keyword tables for lexical classification. All entries are lowercase and
// matched as case-insensitive substrings of subject + body.

// CategoryKeywords has an entry for every category except GENERAL, which is
// the floor result.
var CategoryKeywords = map[Category][]string{
	CategorySettlement: {
		"settlement", "settle", "wire", "invoice", "payment", "funding", "dvp", "dtc",
		"ssi", "cash movement", "settlement instructions", "failed delivery", "fail",
	},
	CategoryTrade: {
		"trade", "order", "execution", "execute", "fill", "block trade", "allocation",
		"creation order", "redemption order", "basket", "pcf", "portfolio composition",
	},
	CategoryCompliance: {
		"compliance", "regulatory", "sec filing", "finra", "audit", "kyc", "aml",
		"prospectus", "disclosure", "restricted list", "breach", "exemptive relief",
	},
	CategoryProduct: {
		"launch", "new fund", "product", "index methodology", "expense ratio",
		"fund launch", "listing", "share class", "seed capital",
	},
	CategoryClientService: {
		"client", "customer", "inquiry", "onboarding", "account", "complaint",
		"service request", "relationship manager", "investor", "support",
	},
	CategoryMarketResearch: {
		"market", "research", "outlook", "analysis", "flows", "volatility",
		"competitor", "industry report", "market commentary", "macro", "sector",
	},
	CategoryReport: {
		"report", "daily nav", "holdings", "performance", "statement",
		"reconciliation", "month-end", "factsheet", "dashboard",
	},
	CategoryMeeting: {
		"meeting", "call", "calendar", "agenda", "invite", "zoom", "schedule",
		"conference", "webinar", "minutes",
	},
	CategoryActionRequired: {
		"action required", "please review", "please approve", "approval", "sign off",
		"sign-off", "required by", "response needed", "needs your", "to do",
	},
}

// CounterpartyKeywords is checked in AllCounterpartyTypes order.
var CounterpartyKeywords = map[CounterpartyType][]string{
	CounterpartyCustodian: {
		"custodian", "custody", "bny mellon", "state street", "northern trust", "safekeeping",
	},
	CounterpartyAdministrator: {
		"fund administrator", "administrator", "fund accounting", "nav calculation",
	},
	CounterpartyTransferAgent: {
		"transfer agent", "shareholder services", "computershare", "registrar",
	},
	CounterpartyAuthorizedParticipant: {
		"authorized participant", "authorised participant", "market maker",
		"liquidity provider", "creation unit",
	},
	CounterpartyIndexProvider: {
		"index provider", "msci", "s&p dow jones", "ftse russell", "solactive",
		"index calculation", "rebalance notice",
	},
	CounterpartyExchange: {
		"nyse", "nasdaq", "cboe", "exchange listing", "listing exchange", "arca",
	},
	CounterpartyRegulator: {
		"securities and exchange commission", "sec.gov", "finra", "cftc", "regulator",
		"deficiency letter",
	},
	CounterpartyInternal: {
		"internal", "our team", "all-hands", "ops team", "portfolio management team",
	},
	CounterpartyClient: {
		"client", "investor", "advisor", "wealth management", "platform",
	},
}

// ProductKeywords scores product types the same way as categories.
var ProductKeywords = map[ProductType][]string{
	ProductEquityETF: {
		"equity", "equities", "stock", "s&p 500", "large cap", "small cap", "dividend",
	},
	ProductFixedIncomeETF: {
		"fixed income", "bond", "treasury", "credit", "duration", "yield", "municipal",
	},
	ProductCommodityETF: {
		"commodity", "gold", "oil", "silver", "futures", "crude", "natural gas", "precious metals",
	},
	ProductThematicETF: {
		"thematic", "esg", "clean energy", "innovation", "robotics",
		"artificial intelligence", "blockchain", "cybersecurity",
	},
	ProductLeveragedInverseETF: {
		"leveraged", "inverse", "2x", "3x", "-1x", "daily reset", "short exposure",
	},
}

// Urgency keyword families.
var (
	UrgentKeywords = []string{
		"urgent", "asap", "immediate", "critical", "deadline", "time sensitive", "time-sensitive",
	}
	HighUrgencyKeywords = []string{
		"important", "priority", "please confirm", "action required",
	}
	LowUrgencyKeywords = []string{
		"fyi only", "just fyi", "for your information", "no action required",
		"no action needed", "no rush", "low priority", "when you get a chance",
	}
)

// Reply detection phrases. NoReplyPhrases override RequestPhrases.
var (
	RequestPhrases = []string{
		"please", "could you", "can you", "would you", "let me know", "please confirm",
		"please advise", "kindly", "request", "need your", "awaiting your", "respond", "reply",
	}
	NoReplyPhrases = []string{
		"no reply needed", "no need to reply", "no response needed", "no response required",
		"no action required", "no action needed", "fyi only", "just fyi",
		"for your information only", "do not reply", "do-not-reply", "noreply",
	}
)

// FallbackTerms are the ETF-domain keywords the local extractor looks for
// when the model is unavailable.
var FallbackTerms = []string{
	"etf", "nav", "creation", "redemption", "basket", "authorized participant", "index",
	"rebalance", "settlement", "custody", "dividend", "expense ratio", "aum",
	"tracking error", "pcf",
}

// TickerStoplist holds uppercase tokens that look like tickers but are not.
var TickerStoplist = map[string]struct{}{
	"FYI": {}, "ASAP": {}, "ETF": {}, "ETFS": {}, "NAV": {}, "USD": {}, "EUR": {}, "GBP": {},
	"JPY": {}, "CEO": {}, "CFO": {}, "COO": {}, "CTO": {}, "EOD": {}, "COB": {}, "SEC": {},
	"AUM": {}, "PCF": {}, "OK": {}, "AM": {}, "PM": {}, "RE": {}, "FW": {}, "FWD": {},
	"CC": {}, "BCC": {}, "TBD": {}, "TBA": {}, "NA": {}, "EST": {}, "PST": {}, "UTC": {},
	"GMT": {}, "EDT": {}, "PDT": {}, "LLC": {}, "INC": {}, "LTD": {}, "USA": {}, "US": {},
	"UK": {}, "EU": {}, "AP": {}, "API": {}, "PDF": {}, "FAQ": {}, "KYC": {}, "AML": {},
	"SSI": {}, "DVP": {}, "DTC": {}, "FINRA": {}, "NYSE": {}, "CBOE": {}, "MSCI": {},
	"ESG": {}, "IPO": {}, "YTD": {}, "QTD": {}, "MTD": {}, "HI": {}, "DEAR": {}, "THE": {},
	"AND": {}, "FOR": {}, "NOT": {}, "ALL": {}, "NEW": {}, "ANY": {}, "ID": {}, "IT": {},
	"HR": {}, "PR": {}, "IR": {}, "OPS": {}, "WIRE": {}, "YOU": {}, "ARE": {}, "THIS": {},
	"THAT": {}, "WITH": {}, "FROM": {}, "NOTE": {}, "RSVP": {}, "ACH": {}, "SWIFT": {},
	"IBAN": {}, "CUSIP": {}, "ISIN": {}, "OTC": {}, "NSCC": {}, "CNS": {},
}
