// Package transform maps source rows to DynamoDB items.
//
// Every function is pure: one denormalized source row in, one item out, no
// I/O. Item identity (PK + SK) is derived deterministically from source
// fields, which is what makes repeated writes of the same logical record
// idempotent upserts and resume-without-duplication safe.
package transform

import (
	"fmt"

	"github.com/NixM0nk3y/chinook-migrate/source"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/shopspring/decimal"
)

// Item is one DynamoDB item in the SDK's typed attribute representation.
type Item = map[string]*dynamodb.AttributeValue

// Embedding cutoffs. A parent above the threshold carries the overflow
// marker and the scalar count instead of the inline list, which bounds item
// size deterministically.
const (
	MaxEmbeddedLineItems = 50
	MaxEmbeddedTracks    = 100
)

// Artist maps an artist row to its metadata item.
func Artist(r source.ArtistRow) Item {
	return newItem(fmt.Sprintf("ARTIST#%d", r.ArtistID), "METADATA", "Artist").
		num("ArtistId", r.ArtistID).
		str("Name", r.Name).
		num("AlbumCount", r.AlbumCount).
		num("TrackCount", r.TrackCount).
		str("GSI1PK", fmt.Sprintf("ARTIST_NAME#%s", r.Name)).
		str("GSI1SK", fmt.Sprintf("ARTIST#%d", r.ArtistID)).
		build()
}

// Album maps an album row to an item under its artist's partition.
func Album(r source.AlbumRow) Item {
	return newItem(fmt.Sprintf("ARTIST#%d", r.ArtistID), fmt.Sprintf("ALBUM#%d", r.AlbumID), "Album").
		num("AlbumId", r.AlbumID).
		str("Title", r.Title).
		num("ArtistId", r.ArtistID).
		str("ArtistName", r.ArtistName).
		num("TrackCount", r.TrackCount).
		str("GSI1PK", fmt.Sprintf("ALBUM_TITLE#%s", r.Title)).
		str("GSI1SK", fmt.Sprintf("ALBUM#%d", r.AlbumID)).
		build()
}

// Track maps a track row to an item under its album's partition. The genre
// search shadow key is populated only when the track carries a genre name.
func Track(r source.TrackRow) Item {
	b := newItem(fmt.Sprintf("ALBUM#%d", r.AlbumID), fmt.Sprintf("TRACK#%d", r.TrackID), "Track").
		num("TrackId", r.TrackID).
		str("Name", r.Name).
		num("AlbumId", r.AlbumID).
		str("AlbumTitle", r.AlbumTitle).
		num("ArtistId", r.ArtistID).
		str("ArtistName", r.ArtistName).
		money("UnitPrice", r.UnitPrice).
		str("GSI1PK", fmt.Sprintf("TRACK_NAME#%s", r.Name)).
		str("GSI1SK", fmt.Sprintf("TRACK#%d", r.TrackID))

	b.optStr("Composer", r.Composer)
	b.optNum("Milliseconds", r.Milliseconds)
	b.optNum("Bytes", r.Bytes)

	if r.GenreID != nil {
		b.num("GenreId", *r.GenreID)
		if r.GenreName != nil {
			b.str("GenreName", *r.GenreName)
			b.str("GSI2PK", fmt.Sprintf("GENRE#%s", *r.GenreName))
		}
	}

	if r.MediaTypeID != nil {
		b.num("MediaTypeId", *r.MediaTypeID)
		if r.MediaTypeName != nil {
			b.str("MediaTypeName", *r.MediaTypeName)
		}
	}

	return b.build()
}

// CustomerProfile maps a customer row to its profile item, with total spend
// aggregated over the full order history available at transform time.
func CustomerProfile(r source.CustomerRow) Item {
	b := newItem(fmt.Sprintf("CUSTOMER#%d", r.CustomerID), "PROFILE", "CustomerProfile").
		num("CustomerId", r.CustomerID).
		str("FirstName", r.FirstName).
		str("LastName", r.LastName).
		str("Email", r.Email).
		str("Country", r.Country).
		str("City", r.City).
		num("TotalOrders", int64(len(r.Orders))).
		str("GSI1PK", fmt.Sprintf("EMAIL#%s", r.Email)).
		str("GSI1SK", fmt.Sprintf("CUSTOMER#%d", r.CustomerID))

	b.optStr("Company", r.Company)
	b.optStr("Address", r.Address)
	b.optStr("State", r.State)
	b.optStr("PostalCode", r.PostalCode)
	b.optStr("Phone", r.Phone)
	b.optStr("Fax", r.Fax)

	if r.SupportRepID != nil {
		b.num("SupportRepId", *r.SupportRepID)
		if r.RepFirstName != nil && r.RepLastName != nil {
			b.str("SupportRepName", fmt.Sprintf("%s %s", *r.RepFirstName, *r.RepLastName))
		}
	}

	totalSpent := decimal.Zero
	for _, o := range r.Orders {
		totalSpent = totalSpent.Add(decimal.NewFromFloat(o.Total))
	}
	b.decimalAttr("TotalSpent", totalSpent)

	return b.build()
}

// Order maps one invoice to an item under its customer's partition. The sort
// key carries the invoice date so orders list chronologically. Line items
// embed inline only up to MaxEmbeddedLineItems; beyond that the item keeps
// the scalar count and the overflow marker.
func Order(customerID int64, o source.OrderRow) Item {
	b := newItem(
		fmt.Sprintf("CUSTOMER#%d", customerID),
		fmt.Sprintf("ORDER#%s#%d", o.InvoiceDate, o.InvoiceID),
		"Order").
		num("InvoiceId", o.InvoiceID).
		str("InvoiceDate", o.InvoiceDate).
		money("Total", o.Total).
		num("LineItemCount", int64(len(o.LineItems)))

	b.optStr("BillingAddress", o.BillingAddress)
	b.optStr("BillingCity", o.BillingCity)
	b.optStr("BillingState", o.BillingState)
	b.optStr("BillingCountry", o.BillingCountry)
	b.optStr("BillingPostalCode", o.BillingPostalCode)

	if len(o.LineItems) <= MaxEmbeddedLineItems {
		lines := make([]*dynamodb.AttributeValue, 0, len(o.LineItems))
		for _, li := range o.LineItems {
			m := Item{
				"InvoiceLineId": numAttr(li.InvoiceLineID),
				"TrackId":       numAttr(li.TrackID),
				"UnitPrice":     moneyAttr(li.UnitPrice),
				"Quantity":      numAttr(li.Quantity),
			}
			if li.TrackName != nil {
				m["TrackName"] = strAttr(*li.TrackName)
			}
			if li.ArtistName != nil {
				m["ArtistName"] = strAttr(*li.ArtistName)
			}
			if li.AlbumTitle != nil {
				m["AlbumTitle"] = strAttr(*li.AlbumTitle)
			}
			lines = append(lines, &dynamodb.AttributeValue{M: m})
		}
		b.list("LineItems", lines)
	} else {
		b.boolean("LargeOrder", true)
	}

	return b.build()
}

// Playlist maps a playlist row to its metadata item, with the total duration
// aggregated over the full track set. Tracks embed inline only up to
// MaxEmbeddedTracks.
func Playlist(r source.PlaylistRow) Item {
	b := newItem(fmt.Sprintf("PLAYLIST#%d", r.PlaylistID), "METADATA", "Playlist").
		num("PlaylistId", r.PlaylistID).
		str("Name", r.Name).
		num("TrackCount", int64(len(r.Tracks)))

	var totalDuration int64
	for _, t := range r.Tracks {
		if t.Milliseconds != nil {
			totalDuration += *t.Milliseconds
		}
	}
	b.num("TotalDuration", totalDuration)

	if len(r.Tracks) <= MaxEmbeddedTracks {
		tracks := make([]*dynamodb.AttributeValue, 0, len(r.Tracks))
		for _, t := range r.Tracks {
			m := Item{
				"TrackId": numAttr(t.TrackID),
				"Name":    strAttr(t.Name),
			}
			if t.Milliseconds != nil {
				m["Duration"] = numAttr(*t.Milliseconds)
			}
			if t.UnitPrice != nil {
				m["UnitPrice"] = moneyAttr(*t.UnitPrice)
			}
			if t.ArtistName != nil {
				m["ArtistName"] = strAttr(*t.ArtistName)
			}
			if t.AlbumTitle != nil {
				m["AlbumTitle"] = strAttr(*t.AlbumTitle)
			}
			tracks = append(tracks, &dynamodb.AttributeValue{M: m})
		}
		b.list("Tracks", tracks)
	} else {
		b.boolean("LargePlaylist", true)
	}

	return b.build()
}

// Employee maps an employee row to its profile item.
func Employee(r source.EmployeeRow) Item {
	b := newItem(fmt.Sprintf("EMPLOYEE#%d", r.EmployeeID), "PROFILE", "Employee").
		num("EmployeeId", r.EmployeeID).
		str("FirstName", r.FirstName).
		str("LastName", r.LastName).
		str("Title", r.Title).
		num("CustomerCount", r.CustomerCount)

	if r.ReportsTo != nil {
		b.num("ReportsTo", *r.ReportsTo)
		if r.ManagerFirstName != nil && r.ManagerLastName != nil {
			b.str("ManagerName", fmt.Sprintf("%s %s", *r.ManagerFirstName, *r.ManagerLastName))
		}
	}

	b.optStr("BirthDate", r.BirthDate)
	b.optStr("HireDate", r.HireDate)
	b.optStr("Address", r.Address)
	b.optStr("City", r.City)
	b.optStr("State", r.State)
	b.optStr("Country", r.Country)
	b.optStr("PostalCode", r.PostalCode)
	b.optStr("Phone", r.Phone)
	b.optStr("Fax", r.Fax)
	b.optStr("Email", r.Email)

	return b.build()
}

func strAttr(v string) *dynamodb.AttributeValue {
	return &dynamodb.AttributeValue{S: aws.String(v)}
}

func numAttr(v int64) *dynamodb.AttributeValue {
	return &dynamodb.AttributeValue{N: aws.String(fmt.Sprintf("%d", v))}
}

// moneyAttr serializes a monetary amount through an exact decimal
// representation, never float formatting, to avoid rounding drift.
func moneyAttr(v float64) *dynamodb.AttributeValue {
	return &dynamodb.AttributeValue{N: aws.String(decimal.NewFromFloat(v).String())}
}

// builder assembles an item, guaranteeing the mandatory identity fields are
// set before any optional attribute is added.
type builder struct {
	item Item
}

func newItem(pk, sk, entityType string) *builder {
	return &builder{item: Item{
		"PK":         strAttr(pk),
		"SK":         strAttr(sk),
		"EntityType": strAttr(entityType),
	}}
}

func (b *builder) str(name, v string) *builder {
	b.item[name] = strAttr(v)
	return b
}

func (b *builder) optStr(name string, v *string) *builder {
	if v != nil {
		b.item[name] = strAttr(*v)
	}
	return b
}

func (b *builder) num(name string, v int64) *builder {
	b.item[name] = numAttr(v)
	return b
}

func (b *builder) optNum(name string, v *int64) *builder {
	if v != nil {
		b.item[name] = numAttr(*v)
	}
	return b
}

func (b *builder) money(name string, v float64) *builder {
	b.item[name] = moneyAttr(v)
	return b
}

func (b *builder) decimalAttr(name string, v decimal.Decimal) *builder {
	b.item[name] = &dynamodb.AttributeValue{N: aws.String(v.String())}
	return b
}

func (b *builder) boolean(name string, v bool) *builder {
	b.item[name] = &dynamodb.AttributeValue{BOOL: aws.Bool(v)}
	return b
}

func (b *builder) list(name string, vs []*dynamodb.AttributeValue) *builder {
	b.item[name] = &dynamodb.AttributeValue{L: vs}
	return b
}

func (b *builder) build() Item {
	return b.item
}
