package services

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/spf13/viper"
)

const settlementQueueKey = "settlement_queue"

// SettlementRecord is a completed fare transaction waiting to be settled
// with the transit operator's acquiring bank. Amount is in cents.
type SettlementRecord struct {
	TransactionID string    `json:"transaction_id"`
	CardID        string    `json:"card_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"created_at"`
}

// SettlementService drains the settlement queue and converts fare
// transactions to ISO 20022 credit-transfer messages for the clearing
// system.
type SettlementService struct {
	redis           *redis.Client
	operatorBIC     string
	operatorAccount string
}

func NewSettlementService(redisClient *redis.Client) *SettlementService {
	viper.SetDefault("settlement.operator_bic", "TRNSZAJJ")
	viper.SetDefault("settlement.operator_account", "TRANSIT-FARES")

	return &SettlementService{
		redis:           redisClient,
		operatorBIC:     viper.GetString("settlement.operator_bic"),
		operatorAccount: viper.GetString("settlement.operator_account"),
	}
}

// Drain pops up to max records from the settlement queue.
func (ss *SettlementService) Drain(ctx context.Context, max int) ([]SettlementRecord, error) {
	if ss.redis == nil {
		return nil, fmt.Errorf("settlement queue unavailable")
	}

	records := []SettlementRecord{}
	for i := 0; i < max; i++ {
		data, err := ss.redis.LPop(ctx, settlementQueueKey).Bytes()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return records, err
		}

		var rec SettlementRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Printf("[SETTLEMENT] Dropping malformed queue entry: %v", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// CreatePacs008 builds a pacs.008 FIToFICustomerCreditTransfer moving one
// fare from the cardholder's wallet to the operator's settlement account.
func (ss *SettlementService) CreatePacs008(rec *SettlementRecord) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()
	amount := float64(rec.Amount) / 100

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(rec.Currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(rec.TransactionID)}[0],
					EndToEndId: common.Max35Text(rec.TransactionID),
					TxId:       &[]common.Max35Text{common.Max35Text(rec.TransactionID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(rec.Currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(ss.operatorBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(rec.CardID)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(ss.operatorBIC)}[0],
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(ss.operatorAccount)}[0],
				},
			},
		},
	}

	return doc, nil
}

// CreatePacs002 builds a pacs.002 status report for a settled fare.
func (ss *SettlementService) CreatePacs002(rec *SettlementRecord, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(rec.TransactionID)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(rec.TransactionID)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(rec.TransactionID)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0], // ACCP, RJCT, ACSC
			},
		},
	}

	return doc, nil
}

// ConvertToXML marshals an ISO 20022 document to an XML string.
func (ss *SettlementService) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}

// ExportSettlement drains queued fares into pacs.008 messages
// @Summary Export settlement batch
// @Description Drain queued fare transactions and convert them to ISO 20022 pacs.008 messages
// @Tags settlement
// @Produce json
// @Success 200 {object} object{exported=int,messages=[]string}
// @Failure 503 {object} map[string]string
// @Router /settlement/export [post]
func (ss *SettlementService) ExportSettlement(w http.ResponseWriter, r *http.Request) {
	records, err := ss.Drain(r.Context(), 100)
	if err != nil {
		SendErrorResponse(w, "Settlement queue unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	messages := []string{}
	for i := range records {
		doc, err := ss.CreatePacs008(&records[i])
		if err != nil {
			log.Printf("[SETTLEMENT] Failed to convert transaction %s: %v", records[i].TransactionID, err)
			continue
		}
		xmlData, err := ss.ConvertToXML(doc)
		if err != nil {
			log.Printf("[SETTLEMENT] Failed to marshal transaction %s: %v", records[i].TransactionID, err)
			continue
		}
		messages = append(messages, xmlData)
	}

	log.Printf("[SETTLEMENT] Exported %d of %d queued fares", len(messages), len(records))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"exported": len(messages),
		"messages": messages,
	})
}
