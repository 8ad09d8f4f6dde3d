/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package crpt

// Document is a goods introduction document submitted to the remote API.
// Dates are passed as is, in the format the remote API expects (e.g. "2020-01-23").
type Document struct {
	Description    *Description `json:"description"`
	DocID          string       `json:"doc_id"`
	DocStatus      string       `json:"doc_status"`
	DocType        string       `json:"doc_type"`
	ImportRequest  bool         `json:"importRequest"`
	OwnerInn       string       `json:"owner_inn" validate:"omitempty,inn"`
	ParticipantInn string       `json:"participant_inn" validate:"omitempty,inn"`
	ProducerInn    string       `json:"producer_inn" validate:"omitempty,inn"`
	ProductionDate string       `json:"production_date"`
	ProductionType string       `json:"production_type"`
	Products       []Product    `json:"products" validate:"dive"`
	RegDate        string       `json:"reg_date"`
	RegNumber      string       `json:"reg_number"`
}

// Description holds document description.
type Description struct {
	ParticipantInn string `json:"participantInn" validate:"omitempty,inn"`
}

// Product is a single product line item of the document.
type Product struct {
	CertificateDocument       string `json:"certificate_document"`
	CertificateDocumentDate   string `json:"certificate_document_date"`
	CertificateDocumentNumber string `json:"certificate_document_number"`
	OwnerInn                  string `json:"owner_inn" validate:"omitempty,inn"`
	ProducerInn               string `json:"producer_inn" validate:"omitempty,inn"`
	ProductionDate            string `json:"production_date"`
	TnvedCode                 string `json:"tnved_code" validate:"omitempty,tnved"`
	UitCode                   string `json:"uit_code"`
	UituCode                  string `json:"uitu_code"`
}
