package transform

import (
	"fmt"
	"testing"

	"github.com/NixM0nk3y/chinook-migrate/source"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(t *testing.T, item Item, name string) string {
	t.Helper()
	require.Contains(t, item, name)
	require.NotNil(t, item[name].S, "attribute %s is not a string", name)
	return aws.StringValue(item[name].S)
}

func num(t *testing.T, item Item, name string) string {
	t.Helper()
	require.Contains(t, item, name)
	require.NotNil(t, item[name].N, "attribute %s is not a number", name)
	return aws.StringValue(item[name].N)
}

func TestArtist(t *testing.T) {

	item := Artist(source.ArtistRow{
		ArtistID:   1,
		Name:       "AC/DC",
		AlbumCount: 2,
		TrackCount: 18,
	})

	assert.Equal(t, "ARTIST#1", str(t, item, "PK"))
	assert.Equal(t, "METADATA", str(t, item, "SK"))
	assert.Equal(t, "Artist", str(t, item, "EntityType"))
	assert.Equal(t, "1", num(t, item, "ArtistId"))
	assert.Equal(t, "AC/DC", str(t, item, "Name"))
	assert.Equal(t, "2", num(t, item, "AlbumCount"))
	assert.Equal(t, "18", num(t, item, "TrackCount"))
	assert.Equal(t, "ARTIST_NAME#AC/DC", str(t, item, "GSI1PK"))
	assert.Equal(t, "ARTIST#1", str(t, item, "GSI1SK"))
}

func TestAlbumLivesInArtistPartition(t *testing.T) {

	item := Album(source.AlbumRow{
		AlbumID:    4,
		Title:      "Let There Be Rock",
		ArtistID:   1,
		ArtistName: "AC/DC",
		TrackCount: 8,
	})

	assert.Equal(t, "ARTIST#1", str(t, item, "PK"))
	assert.Equal(t, "ALBUM#4", str(t, item, "SK"))
	assert.Equal(t, "Album", str(t, item, "EntityType"))
	assert.Equal(t, "ALBUM_TITLE#Let There Be Rock", str(t, item, "GSI1PK"))
}

func TestTrack(t *testing.T) {

	composer := "Angus Young"
	ms := int64(343719)
	genreID := int64(1)
	genre := "Rock"
	mtID := int64(1)
	mt := "MPEG audio file"

	item := Track(source.TrackRow{
		TrackID:       14,
		Name:          "Go Down",
		AlbumID:       4,
		AlbumTitle:    "Let There Be Rock",
		ArtistID:      1,
		ArtistName:    "AC/DC",
		UnitPrice:     0.99,
		Composer:      &composer,
		Milliseconds:  &ms,
		GenreID:       &genreID,
		GenreName:     &genre,
		MediaTypeID:   &mtID,
		MediaTypeName: &mt,
	})

	assert.Equal(t, "ALBUM#4", str(t, item, "PK"))
	assert.Equal(t, "TRACK#14", str(t, item, "SK"))
	assert.Equal(t, "Track", str(t, item, "EntityType"))
	assert.Equal(t, "0.99", num(t, item, "UnitPrice"))
	assert.Equal(t, "Angus Young", str(t, item, "Composer"))
	assert.Equal(t, "343719", num(t, item, "Milliseconds"))
	assert.Equal(t, "GENRE#Rock", str(t, item, "GSI2PK"))
	assert.NotContains(t, item, "Bytes")
}

func TestTrackWithoutGenreOmitsGenreSearchKey(t *testing.T) {

	item := Track(source.TrackRow{
		TrackID:    14,
		Name:       "Go Down",
		AlbumID:    4,
		AlbumTitle: "Let There Be Rock",
		ArtistID:   1,
		ArtistName: "AC/DC",
		UnitPrice:  0.99,
	})

	assert.NotContains(t, item, "GSI2PK")
	assert.NotContains(t, item, "GenreId")
	assert.NotContains(t, item, "MediaTypeId")
	assert.NotContains(t, item, "Composer")
}

func TestCustomerProfileAggregatesSpend(t *testing.T) {

	r := source.CustomerRow{
		CustomerID: 3,
		FirstName:  "François",
		LastName:   "Tremblay",
		Email:      "ftremblay@gmail.com",
		Country:    "Canada",
		City:       "Montréal",
		Orders: []source.OrderRow{
			{InvoiceID: 1, Total: 0.99},
			{InvoiceID: 2, Total: 1.98},
			{InvoiceID: 3, Total: 13.86},
		},
	}

	item := CustomerProfile(r)

	assert.Equal(t, "CUSTOMER#3", str(t, item, "PK"))
	assert.Equal(t, "PROFILE", str(t, item, "SK"))
	assert.Equal(t, "CustomerProfile", str(t, item, "EntityType"))
	assert.Equal(t, "3", num(t, item, "TotalOrders"))
	assert.Equal(t, "16.83", num(t, item, "TotalSpent"))
	assert.Equal(t, "EMAIL#ftremblay@gmail.com", str(t, item, "GSI1PK"))
	assert.NotContains(t, item, "Company")
	assert.NotContains(t, item, "SupportRepId")
}

func TestCustomerProfileSupportRepName(t *testing.T) {

	rep := int64(3)
	first := "Jane"
	last := "Peacock"

	item := CustomerProfile(source.CustomerRow{
		CustomerID:   1,
		FirstName:    "Luís",
		LastName:     "Gonçalves",
		Email:        "luisg@embraer.com.br",
		Country:      "Brazil",
		City:         "São José dos Campos",
		SupportRepID: &rep,
		RepFirstName: &first,
		RepLastName:  &last,
	})

	assert.Equal(t, "3", num(t, item, "SupportRepId"))
	assert.Equal(t, "Jane Peacock", str(t, item, "SupportRepName"))
	assert.Equal(t, "0", num(t, item, "TotalSpent"))
}

func TestOrderSortKeyCarriesDate(t *testing.T) {

	name := "Go Down"

	item := Order(3, source.OrderRow{
		InvoiceID:   42,
		InvoiceDate: "2021-03-04 00:00:00",
		Total:       5.94,
		LineItems: []source.LineItemRow{
			{InvoiceLineID: 100, TrackID: 14, UnitPrice: 0.99, Quantity: 1, TrackName: &name},
		},
	})

	assert.Equal(t, "CUSTOMER#3", str(t, item, "PK"))
	assert.Equal(t, "ORDER#2021-03-04 00:00:00#42", str(t, item, "SK"))
	assert.Equal(t, "Order", str(t, item, "EntityType"))
	assert.Equal(t, "5.94", num(t, item, "Total"))
	assert.Equal(t, "1", num(t, item, "LineItemCount"))
	assert.NotContains(t, item, "LargeOrder")

	require.Contains(t, item, "LineItems")
	lines := item["LineItems"].L
	require.Len(t, lines, 1)
	assert.Equal(t, "0.99", aws.StringValue(lines[0].M["UnitPrice"].N))
	assert.Equal(t, "Go Down", aws.StringValue(lines[0].M["TrackName"].S))
}

func TestOrderEmbeddingThreshold(t *testing.T) {

	makeOrder := func(n int) source.OrderRow {
		o := source.OrderRow{InvoiceID: 1, InvoiceDate: "2021-01-01 00:00:00", Total: float64(n)}
		for i := 0; i < n; i++ {
			o.LineItems = append(o.LineItems, source.LineItemRow{
				InvoiceLineID: int64(i + 1),
				TrackID:       int64(i + 1),
				UnitPrice:     0.99,
				Quantity:      1,
			})
		}
		return o
	}

	at := Order(1, makeOrder(MaxEmbeddedLineItems))
	require.Contains(t, at, "LineItems")
	assert.Len(t, at["LineItems"].L, MaxEmbeddedLineItems)
	assert.NotContains(t, at, "LargeOrder")
	assert.Equal(t, "50", num(t, at, "LineItemCount"))

	over := Order(1, makeOrder(MaxEmbeddedLineItems+1))
	assert.NotContains(t, over, "LineItems")
	require.Contains(t, over, "LargeOrder")
	assert.True(t, aws.BoolValue(over["LargeOrder"].BOOL))
	assert.Equal(t, "51", num(t, over, "LineItemCount"))
}

func TestPlaylistAggregatesDuration(t *testing.T) {

	ms1 := int64(100)
	ms2 := int64(250)

	item := Playlist(source.PlaylistRow{
		PlaylistID: 5,
		Name:       "90's Music",
		Tracks: []source.PlaylistTrackRow{
			{TrackID: 1, Name: "One", Milliseconds: &ms1},
			{TrackID: 2, Name: "Two", Milliseconds: &ms2},
			{TrackID: 3, Name: "Three"},
		},
	})

	assert.Equal(t, "PLAYLIST#5", str(t, item, "PK"))
	assert.Equal(t, "METADATA", str(t, item, "SK"))
	assert.Equal(t, "Playlist", str(t, item, "EntityType"))
	assert.Equal(t, "3", num(t, item, "TrackCount"))
	assert.Equal(t, "350", num(t, item, "TotalDuration"))
	require.Contains(t, item, "Tracks")
	assert.Len(t, item["Tracks"].L, 3)
	assert.NotContains(t, item, "LargePlaylist")
}

func TestPlaylistEmbeddingThreshold(t *testing.T) {

	makePlaylist := func(n int) source.PlaylistRow {
		p := source.PlaylistRow{PlaylistID: 1, Name: "Music"}
		for i := 0; i < n; i++ {
			p.Tracks = append(p.Tracks, source.PlaylistTrackRow{
				TrackID: int64(i + 1),
				Name:    fmt.Sprintf("Track %d", i+1),
			})
		}
		return p
	}

	at := Playlist(makePlaylist(MaxEmbeddedTracks))
	require.Contains(t, at, "Tracks")
	assert.Len(t, at["Tracks"].L, MaxEmbeddedTracks)
	assert.NotContains(t, at, "LargePlaylist")

	over := Playlist(makePlaylist(MaxEmbeddedTracks + 1))
	assert.NotContains(t, over, "Tracks")
	require.Contains(t, over, "LargePlaylist")
	assert.True(t, aws.BoolValue(over["LargePlaylist"].BOOL))
	assert.Equal(t, "101", num(t, over, "TrackCount"))
}

func TestEmployee(t *testing.T) {

	reportsTo := int64(1)
	mgrFirst := "Andrew"
	mgrLast := "Adams"
	email := "nancy@chinookcorp.com"

	item := Employee(source.EmployeeRow{
		EmployeeID:       2,
		FirstName:        "Nancy",
		LastName:         "Edwards",
		Title:            "Sales Manager",
		ReportsTo:        &reportsTo,
		ManagerFirstName: &mgrFirst,
		ManagerLastName:  &mgrLast,
		Email:            &email,
		CustomerCount:    0,
	})

	assert.Equal(t, "EMPLOYEE#2", str(t, item, "PK"))
	assert.Equal(t, "PROFILE", str(t, item, "SK"))
	assert.Equal(t, "Employee", str(t, item, "EntityType"))
	assert.Equal(t, "Sales Manager", str(t, item, "Title"))
	assert.Equal(t, "1", num(t, item, "ReportsTo"))
	assert.Equal(t, "Andrew Adams", str(t, item, "ManagerName"))
	assert.Equal(t, "0", num(t, item, "CustomerCount"))
}

func TestEmployeeWithoutManager(t *testing.T) {

	item := Employee(source.EmployeeRow{
		EmployeeID: 1,
		FirstName:  "Andrew",
		LastName:   "Adams",
		Title:      "General Manager",
	})

	assert.NotContains(t, item, "ReportsTo")
	assert.NotContains(t, item, "ManagerName")
}

// Item identity must be a pure function of the source row: two transforms of
// the same row always address the same target item.
func TestDeterministicIdentity(t *testing.T) {

	r := source.ArtistRow{ArtistID: 9, Name: "BackBeat"}

	a := Artist(r)
	b := Artist(r)

	assert.Equal(t, str(t, a, "PK"), str(t, b, "PK"))
	assert.Equal(t, str(t, a, "SK"), str(t, b, "SK"))
}
