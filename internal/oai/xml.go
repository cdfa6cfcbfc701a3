package oai

import "encoding/xml"

// envelope mirrors the OAI-PMH response document. Element names carry no
// namespace so they match the OAI 2.0 default namespace.
type envelope struct {
	XMLName xml.Name `xml:"OAI-PMH"`

	Errors []struct {
		Code    string `xml:"code,attr"`
		Message string `xml:",chardata"`
	} `xml:"error"`

	Identify *struct {
		RepositoryName    string   `xml:"repositoryName"`
		BaseURL           string   `xml:"baseURL"`
		ProtocolVersion   string   `xml:"protocolVersion"`
		AdminEmails       []string `xml:"adminEmail"`
		EarliestDatestamp string   `xml:"earliestDatestamp"`
		DeletedRecord     string   `xml:"deletedRecord"`
		Granularity       string   `xml:"granularity"`
	} `xml:"Identify"`

	ListMetadataFormats *struct {
		Formats []struct {
			Prefix    string `xml:"metadataPrefix"`
			Schema    string `xml:"schema"`
			Namespace string `xml:"metadataNamespace"`
		} `xml:"metadataFormat"`
	} `xml:"ListMetadataFormats"`

	ListIdentifiers *struct {
		Headers []struct {
			Status     string   `xml:"status,attr"`
			Identifier string   `xml:"identifier"`
			Datestamp  string   `xml:"datestamp"`
			SetSpecs   []string `xml:"setSpec"`
		} `xml:"header"`
		Token *struct {
			Value            string `xml:",chardata"`
			CompleteListSize string `xml:"completeListSize,attr"`
			Cursor           string `xml:"cursor,attr"`
		} `xml:"resumptionToken"`
	} `xml:"ListIdentifiers"`
}
