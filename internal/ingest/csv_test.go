package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const providerCSV = `License Holder,License Number,License Type,AddressLine1,City,Capacity
Sunrise Care Services,LIC-001,Adult Family Home,12 Main St,Columbus,4
Hopeful Homes LLC,LIC-002,Adult Family Home,90 Oak Ave,Columbus,12
Gamma Services,LIC-003,Residential,5 Pine Rd,Dayton,2
No License Row,,Residential,1 Elm St,Columbus,3
`

func TestParseProviders(t *testing.T) {
	rows, err := ParseProviders(strings.NewReader(providerCSV), "")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// capacity descending
	require.Equal(t, "LIC-002", rows[0].LicenseNumber)
	require.Equal(t, 12, rows[0].Capacity)
	require.Equal(t, "Hopeful Homes LLC", rows[0].Name)
	require.Equal(t, "Columbus", rows[0].City)
	require.Equal(t, "LIC-003", rows[2].LicenseNumber)
}

func TestParseProvidersCityFilter(t *testing.T) {
	rows, err := ParseProviders(strings.NewReader(providerCSV), "columbus")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.Equal(t, "Columbus", row.City)
	}
}

func TestParseProvidersAlternateHeaders(t *testing.T) {
	csv := "name,license_number,capacity\nAlpha,A-1,7\n"
	rows, err := ParseProviders(strings.NewReader(csv), "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Alpha", rows[0].Name)
	require.Equal(t, 7, rows[0].Capacity)
}

func TestParseProvidersMissingLicenseColumn(t *testing.T) {
	_, err := ParseProviders(strings.NewReader("name,city\nAlpha,Columbus\n"), "")
	require.Error(t, err)
}

func TestParseProvidersBadCapacityDefaultsToZero(t *testing.T) {
	csv := "License Number,Capacity\nA-1,not-a-number\n"
	rows, err := ParseProviders(strings.NewReader(csv), "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 0, rows[0].Capacity)
}

func TestParsePayments(t *testing.T) {
	csv := `license_number,amount,date
LIC-001,"1,500.00",2025-01-15
LIC-001,$200,2025-02-15
LIC-002,99.5,01/20/2025
LIC-001,broken,2025-03-15
LIC-001,100,not-a-date
`
	rows, err := ParsePayments(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, 1500.0, rows[0].Amount)
	require.Equal(t, 200.0, rows[1].Amount)
	require.Equal(t, "LIC-002", rows[2].LicenseNumber)
	require.Equal(t, 2025, rows[0].PaidAt.Year())
}

func TestParsePaymentsMissingColumns(t *testing.T) {
	_, err := ParsePayments(strings.NewReader("amount,date\n10,2025-01-01\n"))
	require.Error(t, err)

	_, err = ParsePayments(strings.NewReader("license_number,date\nA-1,2025-01-01\n"))
	require.Error(t, err)
}

func TestGroupPayments(t *testing.T) {
	grouped := GroupPayments([]PaymentRow{
		{LicenseNumber: "lic-001", Amount: 1},
		{LicenseNumber: "LIC-001 ", Amount: 2},
		{LicenseNumber: "LIC-002", Amount: 3},
	})
	require.Len(t, grouped["LIC-001"], 2)
	require.Len(t, grouped["LIC-002"], 1)
}
