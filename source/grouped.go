package source

import (
	"context"
	"database/sql"
	"fmt"
)

// LineItemRow is one invoice line joined with track metadata.
type LineItemRow struct {
	InvoiceLineID int64
	TrackID       int64
	UnitPrice     float64
	Quantity      int64
	TrackName     *string
	ArtistName    *string
	AlbumTitle    *string
}

// OrderRow is one invoice with its ordered line items.
type OrderRow struct {
	InvoiceID         int64
	InvoiceDate       string
	Total             float64
	BillingAddress    *string
	BillingCity       *string
	BillingState      *string
	BillingCountry    *string
	BillingPostalCode *string
	LineItems         []LineItemRow
}

// CustomerRow is one customer profile with its orders, grouped and ordered
// by invoice date then line id.
type CustomerRow struct {
	CustomerID   int64
	FirstName    string
	LastName     string
	Email        string
	Country      string
	City         string
	Company      *string
	Address      *string
	State        *string
	PostalCode   *string
	Phone        *string
	Fax          *string
	SupportRepID *int64
	RepFirstName *string
	RepLastName  *string
	Orders       []OrderRow
}

// EachCustomer streams customers with CustomerId > afterID in ascending id
// order, each carrying its full order history. Grouping happens while
// consuming the id-ordered join, so only one customer is held in memory.
func (d *DB) EachCustomer(ctx context.Context, afterID int64, fn func(CustomerRow) error) error {

	const q = `
	SELECT c.CustomerId, c.FirstName, c.LastName, c.Company, c.Address,
	       c.City, c.State, c.Country, c.PostalCode, c.Phone, c.Fax, c.Email,
	       c.SupportRepId, e.FirstName AS RepFirstName, e.LastName AS RepLastName,
	       i.InvoiceId, i.InvoiceDate, i.BillingAddress, i.BillingCity,
	       i.BillingState, i.BillingCountry, i.BillingPostalCode, i.Total,
	       il.InvoiceLineId, il.TrackId, il.UnitPrice, il.Quantity,
	       t.Name AS TrackName, a.Name AS ArtistName, al.Title AS AlbumTitle
	FROM Customer c
	LEFT JOIN Employee e ON c.SupportRepId = e.EmployeeId
	LEFT JOIN Invoice i ON c.CustomerId = i.CustomerId
	LEFT JOIN InvoiceLine il ON i.InvoiceId = il.InvoiceId
	LEFT JOIN Track t ON il.TrackId = t.TrackId
	LEFT JOIN Album al ON t.AlbumId = al.AlbumId
	LEFT JOIN Artist a ON al.ArtistId = a.ArtistId
	WHERE c.CustomerId > ?
	ORDER BY c.CustomerId, i.InvoiceDate, i.InvoiceId, il.InvoiceLineId`

	rows, err := d.db.QueryContext(ctx, q, afterID)
	if err != nil {
		return fmt.Errorf("customer query failed: %w", err)
	}
	defer rows.Close()

	var current *CustomerRow

	flush := func() error {
		if current == nil {
			return nil
		}
		err := fn(*current)
		current = nil
		return err
	}

	for rows.Next() {
		var (
			customerID                                 int64
			firstName, lastName, city, country, email  string
			company, address, state, postalCode        sql.NullString
			phone, fax, repFirst, repLast              sql.NullString
			supportRepID, invoiceID, lineID, trackID   sql.NullInt64
			quantity                                   sql.NullInt64
			invoiceDate, billAddr, billCity, billState sql.NullString
			billCountry, billPostal                    sql.NullString
			total, lineUnitPrice                       sql.NullFloat64
			trackName, artistName, albumTitle          sql.NullString
		)

		if err := rows.Scan(&customerID, &firstName, &lastName, &company, &address,
			&city, &state, &country, &postalCode, &phone, &fax, &email,
			&supportRepID, &repFirst, &repLast,
			&invoiceID, &invoiceDate, &billAddr, &billCity,
			&billState, &billCountry, &billPostal, &total,
			&lineID, &trackID, &lineUnitPrice, &quantity,
			&trackName, &artistName, &albumTitle); err != nil {
			return fmt.Errorf("customer scan failed: %w", err)
		}

		if current == nil || current.CustomerID != customerID {
			if err := flush(); err != nil {
				return err
			}
			current = &CustomerRow{
				CustomerID:   customerID,
				FirstName:    firstName,
				LastName:     lastName,
				Email:        email,
				Country:      country,
				City:         city,
				Company:      optStr(company),
				Address:      optStr(address),
				State:        optStr(state),
				PostalCode:   optStr(postalCode),
				Phone:        optStr(phone),
				Fax:          optStr(fax),
				SupportRepID: optInt(supportRepID),
				RepFirstName: optStr(repFirst),
				RepLastName:  optStr(repLast),
			}
		}

		if invoiceID.Valid {
			n := len(current.Orders)
			if n == 0 || current.Orders[n-1].InvoiceID != invoiceID.Int64 {
				current.Orders = append(current.Orders, OrderRow{
					InvoiceID:         invoiceID.Int64,
					InvoiceDate:       invoiceDate.String,
					Total:             total.Float64,
					BillingAddress:    optStr(billAddr),
					BillingCity:       optStr(billCity),
					BillingState:      optStr(billState),
					BillingCountry:    optStr(billCountry),
					BillingPostalCode: optStr(billPostal),
				})
				n++
			}
			if lineID.Valid {
				order := &current.Orders[n-1]
				order.LineItems = append(order.LineItems, LineItemRow{
					InvoiceLineID: lineID.Int64,
					TrackID:       trackID.Int64,
					UnitPrice:     lineUnitPrice.Float64,
					Quantity:      quantity.Int64,
					TrackName:     optStr(trackName),
					ArtistName:    optStr(artistName),
					AlbumTitle:    optStr(albumTitle),
				})
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return flush()
}

// PlaylistTrackRow is one track within a playlist.
type PlaylistTrackRow struct {
	TrackID      int64
	Name         string
	Milliseconds *int64
	UnitPrice    *float64
	ArtistName   *string
	AlbumTitle   *string
}

// PlaylistRow is one playlist with its tracks ordered by track name.
type PlaylistRow struct {
	PlaylistID int64
	Name       string
	Tracks     []PlaylistTrackRow
}

// EachPlaylist streams playlists with PlaylistId > afterID in ascending id
// order, each carrying its track list.
func (d *DB) EachPlaylist(ctx context.Context, afterID int64, fn func(PlaylistRow) error) error {

	const q = `
	SELECT p.PlaylistId, p.Name AS PlaylistName,
	       pt.TrackId, t.Name AS TrackName, t.Milliseconds, t.UnitPrice,
	       a.Name AS ArtistName, al.Title AS AlbumTitle
	FROM Playlist p
	LEFT JOIN PlaylistTrack pt ON p.PlaylistId = pt.PlaylistId
	LEFT JOIN Track t ON pt.TrackId = t.TrackId
	LEFT JOIN Album al ON t.AlbumId = al.AlbumId
	LEFT JOIN Artist a ON al.ArtistId = a.ArtistId
	WHERE p.PlaylistId > ?
	ORDER BY p.PlaylistId, t.Name`

	rows, err := d.db.QueryContext(ctx, q, afterID)
	if err != nil {
		return fmt.Errorf("playlist query failed: %w", err)
	}
	defer rows.Close()

	var current *PlaylistRow

	flush := func() error {
		if current == nil {
			return nil
		}
		err := fn(*current)
		current = nil
		return err
	}

	for rows.Next() {
		var (
			playlistID                        int64
			playlistName                      sql.NullString
			trackID, ms                       sql.NullInt64
			unitPrice                         sql.NullFloat64
			trackName, artistName, albumTitle sql.NullString
		)

		if err := rows.Scan(&playlistID, &playlistName, &trackID, &trackName,
			&ms, &unitPrice, &artistName, &albumTitle); err != nil {
			return fmt.Errorf("playlist scan failed: %w", err)
		}

		if current == nil || current.PlaylistID != playlistID {
			if err := flush(); err != nil {
				return err
			}
			name, err := required(playlistName, "Playlist.Name", playlistID)
			if err != nil {
				return err
			}
			current = &PlaylistRow{PlaylistID: playlistID, Name: name}
		}

		if trackID.Valid {
			current.Tracks = append(current.Tracks, PlaylistTrackRow{
				TrackID:      trackID.Int64,
				Name:         trackName.String,
				Milliseconds: optInt(ms),
				UnitPrice:    optFloat(unitPrice),
				ArtistName:   optStr(artistName),
				AlbumTitle:   optStr(albumTitle),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return flush()
}

// EmployeeRow is one employee joined with manager name and the count of
// customers they support.
type EmployeeRow struct {
	EmployeeID       int64
	FirstName        string
	LastName         string
	Title            string
	ReportsTo        *int64
	ManagerFirstName *string
	ManagerLastName  *string
	BirthDate        *string
	HireDate         *string
	Address          *string
	City             *string
	State            *string
	Country          *string
	PostalCode       *string
	Phone            *string
	Fax              *string
	Email            *string
	CustomerCount    int64
}

// EachEmployee streams employees with EmployeeId > afterID in ascending id
// order.
func (d *DB) EachEmployee(ctx context.Context, afterID int64, fn func(EmployeeRow) error) error {

	const q = `
	SELECT e.EmployeeId, e.LastName, e.FirstName, e.Title, e.ReportsTo,
	       e.BirthDate, e.HireDate, e.Address, e.City, e.State, e.Country,
	       e.PostalCode, e.Phone, e.Fax, e.Email,
	       m.FirstName AS ManagerFirstName, m.LastName AS ManagerLastName,
	       COUNT(c.CustomerId) AS CustomerCount
	FROM Employee e
	LEFT JOIN Employee m ON e.ReportsTo = m.EmployeeId
	LEFT JOIN Customer c ON e.EmployeeId = c.SupportRepId
	WHERE e.EmployeeId > ?
	GROUP BY e.EmployeeId
	ORDER BY e.EmployeeId`

	rows, err := d.db.QueryContext(ctx, q, afterID)
	if err != nil {
		return fmt.Errorf("employee query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r EmployeeRow
		var title sql.NullString
		var reportsTo sql.NullInt64
		var birthDate, hireDate, address, city, st, country sql.NullString
		var postalCode, phone, fax, email, mgrFirst, mgrLast sql.NullString

		if err := rows.Scan(&r.EmployeeID, &r.LastName, &r.FirstName, &title, &reportsTo,
			&birthDate, &hireDate, &address, &city, &st, &country,
			&postalCode, &phone, &fax, &email,
			&mgrFirst, &mgrLast, &r.CustomerCount); err != nil {
			return fmt.Errorf("employee scan failed: %w", err)
		}
		if r.Title, err = required(title, "Employee.Title", r.EmployeeID); err != nil {
			return err
		}
		r.ReportsTo = optInt(reportsTo)
		r.ManagerFirstName = optStr(mgrFirst)
		r.ManagerLastName = optStr(mgrLast)
		r.BirthDate = optStr(birthDate)
		r.HireDate = optStr(hireDate)
		r.Address = optStr(address)
		r.City = optStr(city)
		r.State = optStr(st)
		r.Country = optStr(country)
		r.PostalCode = optStr(postalCode)
		r.Phone = optStr(phone)
		r.Fax = optStr(fax)
		r.Email = optStr(email)

		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}
