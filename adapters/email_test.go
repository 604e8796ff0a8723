package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const faSample = `<?xml version="1.0" encoding="UTF-8"?>
<Faktura xmlns="http://crd.gov.pl/wzor/2023/06/29/12648/">
  <Podmiot1>
    <DaneIdentyfikacyjne>
      <NIP>5213003700</NIP>
      <Nazwa>Hurtownia ALFA Sp. z o.o.</Nazwa>
    </DaneIdentyfikacyjne>
  </Podmiot1>
  <Fa>
    <KodWaluty>PLN</KodWaluty>
    <P_1>2026-01-15</P_1>
    <P_2>FV/12/2026</P_2>
    <P_15>1230.00</P_15>
  </Fa>
</Faktura>`

func TestParseFAInvoice(t *testing.T) {
	rec, ok := parseFAInvoice([]byte(faSample))
	require.True(t, ok)
	assert.Equal(t, "FV/12/2026", rec.Number)
	assert.Equal(t, "Hurtownia ALFA Sp. z o.o.", rec.Contractor)
	assert.Equal(t, "5213003700", rec.ContractorNIP)
	assert.Equal(t, "1230", rec.AmountGross.String())
	assert.Equal(t, "PLN", rec.Currency)
	require.NotNil(t, rec.DocumentDate)
	assert.Equal(t, "2026-01-15", rec.DocumentDate.Format("2006-01-02"))
}

func TestParseFAInvoiceForeignNamespace(t *testing.T) {
	foreign := `<Faktura xmlns="http://example.com/inny-schemat"><Fa><P_2>X/1</P_2></Fa></Faktura>`
	_, ok := parseFAInvoice([]byte(foreign))
	assert.False(t, ok)
}

func TestParseFAInvoiceGarbage(t *testing.T) {
	_, ok := parseFAInvoice([]byte("to nie jest xml"))
	assert.False(t, ok)
}
