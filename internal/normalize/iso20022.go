package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/shopspring/decimal"
)

// Trace is an evaluation trace document holding an ISO20022 payment
// message. Pointer fields distinguish absent paths from zero values.
type Trace struct {
	TransactionID string      `json:"transactionID,omitempty" bson:"transactionID,omitempty"`
	NetworkMap    *NetworkMap `json:"networkMap,omitempty" bson:"networkMap,omitempty"`
	Report        *Report     `json:"report,omitempty" bson:"report,omitempty"`
}

// NetworkMap lists the messages routed through the rule network.
type NetworkMap struct {
	Messages []TraceMessage `json:"messages" bson:"messages"`
}

// TraceMessage is one routed message.
type TraceMessage struct {
	ID          string              `json:"id,omitempty" bson:"id,omitempty"`
	TxTp        string              `json:"txTp,omitempty" bson:"txTp,omitempty"`
	Transaction *MessageTransaction `json:"transaction,omitempty" bson:"transaction,omitempty"`
	DataCache   *DataCache          `json:"dataCache,omitempty" bson:"dataCache,omitempty"`
}

// MessageTransaction wraps the pacs.002 payment status report.
type MessageTransaction struct {
	FIToFIPmtSts *FIToFIPmtSts `json:"FIToFIPmtSts,omitempty" bson:"FIToFIPmtSts,omitempty"`
}

// FIToFIPmtSts is the FI-to-FI payment status report.
type FIToFIPmtSts struct {
	GrpHdr      *GroupHeader `json:"GrpHdr,omitempty" bson:"GrpHdr,omitempty"`
	TxInfAndSts *TxInfAndSts `json:"TxInfAndSts,omitempty" bson:"TxInfAndSts,omitempty"`
}

// GroupHeader carries message identification.
type GroupHeader struct {
	MsgID   string `json:"MsgId,omitempty" bson:"MsgId,omitempty"`
	CreDtTm string `json:"CreDtTm,omitempty" bson:"CreDtTm,omitempty"`
}

// TxInfAndSts carries the original identifiers and the status code.
type TxInfAndSts struct {
	OrgnlInstrID    string       `json:"OrgnlInstrId,omitempty" bson:"OrgnlInstrId,omitempty"`
	OrgnlEndToEndID string       `json:"OrgnlEndToEndId,omitempty" bson:"OrgnlEndToEndId,omitempty"`
	TxSts           string       `json:"TxSts,omitempty" bson:"TxSts,omitempty"`
	AccptncDtTm     string       `json:"AccptncDtTm,omitempty" bson:"AccptncDtTm,omitempty"`
	ChrgsInf        []ChargeInfo `json:"ChrgsInf,omitempty" bson:"ChrgsInf,omitempty"`
	InstgAgt        *Agent       `json:"InstgAgt,omitempty" bson:"InstgAgt,omitempty"`
	InstdAgt        *Agent       `json:"InstdAgt,omitempty" bson:"InstdAgt,omitempty"`
}

// ChargeInfo is a charges entry.
type ChargeInfo struct {
	Amt *CurrencyAmount `json:"Amt,omitempty" bson:"Amt,omitempty"`
	Agt *Agent          `json:"Agt,omitempty" bson:"Agt,omitempty"`
}

// CurrencyAmount is an ISO20022 active-or-historic currency amount.
type CurrencyAmount struct {
	Amt float64 `json:"Amt" bson:"Amt"`
	Ccy string  `json:"Ccy" bson:"Ccy"`
}

// Agent identifies a financial institution by clearing member id.
type Agent struct {
	FinInstnID struct {
		ClrSysMmbID struct {
			MmbID string `json:"MmbId" bson:"MmbId"`
		} `json:"ClrSysMmbId" bson:"ClrSysMmbId"`
	} `json:"FinInstnId" bson:"FinInstnId"`
}

// DataCache holds the parties and amount cached alongside the message.
type DataCache struct {
	DbtrID     string           `json:"dbtrId,omitempty" bson:"dbtrId,omitempty"`
	CdtrID     string           `json:"cdtrId,omitempty" bson:"cdtrId,omitempty"`
	DbtrAcctID string           `json:"dbtrAcctId,omitempty" bson:"dbtrAcctId,omitempty"`
	CdtrAcctID string           `json:"cdtrAcctId,omitempty" bson:"cdtrAcctId,omitempty"`
	Amt        *DataCacheAmount `json:"amt,omitempty" bson:"amt,omitempty"`
	CreDtTm    string           `json:"creDtTm,omitempty" bson:"creDtTm,omitempty"`
}

// DataCacheAmount is the cached instructed amount.
type DataCacheAmount struct {
	Amt float64 `json:"amt" bson:"amt"`
	Ccy string  `json:"ccy" bson:"ccy"`
}

// Report is the rule network's decision on the message.
type Report struct {
	Status string `json:"status,omitempty" bson:"status,omitempty"`
	// Score is only present when the network produced one.
	Score *float64 `json:"score,omitempty" bson:"score,omitempty"`
}

// ParseTrace decodes a JSON trace document.
func ParseTrace(data []byte) (*Trace, error) {
	var t Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedSourceRecord, err)
	}
	return &t, nil
}

// ISO20022 transaction status codes.
const (
	StatusCodeAccepted = "ACCP"
	StatusCodePending  = "PDNG"
	StatusCodeRejected = "RJCT"
)

// MapStatusCode maps an ISO20022 status code to a canonical status.
// Unmapped codes are pending: they never default to completed or blocked.
func MapStatusCode(code string) domain.TransactionStatus {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case StatusCodeAccepted:
		return domain.TransactionCompleted
	case StatusCodeRejected:
		return domain.TransactionBlocked
	default:
		return domain.TransactionPending
	}
}

// ClassifyMessageType derives the canonical transaction type from the
// message type identifier (e.g. "pacs.002.001.12").
func ClassifyMessageType(txTp string) string {
	family := strings.ToLower(strings.TrimSpace(txTp))
	if i := strings.Index(family, "."); i >= 0 {
		if j := strings.Index(family[i+1:], "."); j >= 0 {
			family = family[:i+1+j]
		}
	}

	switch family {
	case "pacs.002":
		return "payment_status"
	case "pacs.008":
		return "credit_transfer"
	case "pain.001":
		return "payment_initiation"
	case "pain.013":
		return "request_to_pay"
	default:
		return "other"
	}
}

// TraceTransaction extracts the canonical transaction from a trace.
// The first network message must carry FIToFIPmtSts with an end-to-end id
// and creation time, and a data cache with the debtor and amount.
func TraceTransaction(t *Trace) (*domain.Transaction, error) {
	if t == nil || t.NetworkMap == nil || len(t.NetworkMap.Messages) == 0 {
		return nil, fmt.Errorf("%w: networkMap.messages[0] is missing", domain.ErrMalformedSourceRecord)
	}
	msg := t.NetworkMap.Messages[0]

	if msg.Transaction == nil || msg.Transaction.FIToFIPmtSts == nil {
		return nil, fmt.Errorf("%w: messages[0].transaction.FIToFIPmtSts is missing", domain.ErrMalformedSourceRecord)
	}
	sts := msg.Transaction.FIToFIPmtSts
	if sts.TxInfAndSts == nil {
		return nil, fmt.Errorf("%w: FIToFIPmtSts.TxInfAndSts is missing", domain.ErrMalformedSourceRecord)
	}
	if sts.GrpHdr == nil || sts.GrpHdr.CreDtTm == "" {
		return nil, fmt.Errorf("%w: FIToFIPmtSts.GrpHdr.CreDtTm is missing", domain.ErrMalformedSourceRecord)
	}
	info := sts.TxInfAndSts

	txID := t.TransactionID
	if txID == "" {
		txID = info.OrgnlEndToEndID
	}
	if txID == "" {
		return nil, fmt.Errorf("%w: TxInfAndSts.OrgnlEndToEndId is missing", domain.ErrMalformedSourceRecord)
	}

	ts, err := parseISOTime(sts.GrpHdr.CreDtTm)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction %s CreDtTm: %v", domain.ErrMalformedSourceRecord, txID, err)
	}

	if msg.DataCache == nil || msg.DataCache.DbtrID == "" {
		return nil, fmt.Errorf("%w: transaction %s has no debtor in dataCache", domain.ErrMalformedSourceRecord, txID)
	}
	dc := msg.DataCache

	var amount decimal.Decimal
	var currency string
	switch {
	case dc.Amt != nil:
		amount, currency = decimal.NewFromFloat(dc.Amt.Amt), dc.Amt.Ccy
	case len(info.ChrgsInf) > 0 && info.ChrgsInf[0].Amt != nil:
		amount, currency = decimal.NewFromFloat(info.ChrgsInf[0].Amt.Amt), info.ChrgsInf[0].Amt.Ccy
	default:
		return nil, fmt.Errorf("%w: transaction %s has no amount", domain.ErrMalformedSourceRecord, txID)
	}

	tx := &domain.Transaction{
		ID:         txID,
		CustomerID: dc.DbtrID,
		Amount:     amount,
		Currency:   strings.ToUpper(currency),
		Type:       ClassifyMessageType(msg.TxTp),
		Channel:    "iso20022",
		Counterparty: domain.Counterparty{
			Name:    dc.CdtrID,
			Account: dc.CdtrAcctID,
		},
		Timestamp: ts,
		Status:    MapStatusCode(info.TxSts),
		Metadata: map[string]any{
			"source":        "docstore",
			"message_type":  msg.TxTp,
			"status_code":   info.TxSts,
			"end_to_end_id": info.OrgnlEndToEndID,
		},
	}

	if info.InstdAgt != nil {
		tx.Counterparty.Bank = info.InstdAgt.FinInstnID.ClrSysMmbID.MmbID
	}
	if sts.GrpHdr.MsgID != "" {
		tx.Metadata["message_id"] = sts.GrpHdr.MsgID
	}
	if info.OrgnlInstrID != "" {
		tx.Metadata["instruction_id"] = info.OrgnlInstrID
	}
	if dc.DbtrAcctID != "" {
		tx.Metadata["debtor_account"] = dc.DbtrAcctID
	}

	if t.Report != nil {
		if t.Report.Status != "" {
			tx.Metadata["report_status"] = t.Report.Status
		}
		if t.Report.Score != nil {
			score := *t.Report.Score
			tx.RiskScore = &score
		}
	}

	return tx, nil
}

func parseISOTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
