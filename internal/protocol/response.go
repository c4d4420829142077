package protocol

import (
	"github.com/lor00x/goldap/message"
)

// NewBindResponse creates a bind response with the given result code
func NewBindResponse(resultCode int) message.BindResponse {
	r := message.BindResponse{}
	r.SetResultCode(resultCode)
	return r
}

// NewSearchResultEntry creates a search result entry with the given DN
func NewSearchResultEntry(dn string) message.SearchResultEntry {
	r := message.SearchResultEntry{}
	r.SetObjectName(dn)
	return r
}

// AddAttribute adds an attribute to a search result entry
func AddAttribute(entry *message.SearchResultEntry, name string, values ...string) {
	attrValues := make([]message.AttributeValue, len(values))
	for i, v := range values {
		attrValues[i] = message.AttributeValue(v)
	}
	entry.AddAttribute(message.AttributeDescription(name), attrValues...)
}

// AddBinaryAttribute adds raw octet values to a search result entry
func AddBinaryAttribute(entry *message.SearchResultEntry, name string, values ...[]byte) {
	attrValues := make([]message.AttributeValue, len(values))
	for i, v := range values {
		attrValues[i] = message.AttributeValue(v)
	}
	entry.AddAttribute(message.AttributeDescription(name), attrValues...)
}

// NewSearchResultDone creates a search done response
func NewSearchResultDone(resultCode int) message.SearchResultDone {
	r := message.SearchResultDone{}
	r.SetResultCode(resultCode)
	return r
}
