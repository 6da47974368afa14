package source

import (
	"context"
	"database/sql"
	"fmt"
)

// ArtistRow is one artist with its aggregate album and track counts.
type ArtistRow struct {
	ArtistID   int64
	Name       string
	AlbumCount int64
	TrackCount int64
}

// EachArtist streams artists with ArtistId > afterID in ascending id order.
func (d *DB) EachArtist(ctx context.Context, afterID int64, fn func(ArtistRow) error) error {

	const q = `
	SELECT a.ArtistId, a.Name,
	       COUNT(DISTINCT al.AlbumId) AS AlbumCount,
	       COUNT(DISTINCT t.TrackId) AS TrackCount
	FROM Artist a
	LEFT JOIN Album al ON a.ArtistId = al.ArtistId
	LEFT JOIN Track t ON al.AlbumId = t.AlbumId
	WHERE a.ArtistId > ?
	GROUP BY a.ArtistId, a.Name
	ORDER BY a.ArtistId`

	rows, err := d.db.QueryContext(ctx, q, afterID)
	if err != nil {
		return fmt.Errorf("artist query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r ArtistRow
		var name sql.NullString
		if err := rows.Scan(&r.ArtistID, &name, &r.AlbumCount, &r.TrackCount); err != nil {
			return fmt.Errorf("artist scan failed: %w", err)
		}
		if r.Name, err = required(name, "Artist.Name", r.ArtistID); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// AlbumRow is one album joined with its artist and track count.
type AlbumRow struct {
	AlbumID    int64
	Title      string
	ArtistID   int64
	ArtistName string
	TrackCount int64
}

// EachAlbum streams albums with AlbumId > afterID in ascending id order.
func (d *DB) EachAlbum(ctx context.Context, afterID int64, fn func(AlbumRow) error) error {

	const q = `
	SELECT al.AlbumId, al.Title, al.ArtistId,
	       a.Name AS ArtistName,
	       COUNT(t.TrackId) AS TrackCount
	FROM Album al
	JOIN Artist a ON al.ArtistId = a.ArtistId
	LEFT JOIN Track t ON al.AlbumId = t.AlbumId
	WHERE al.AlbumId > ?
	GROUP BY al.AlbumId, al.Title, al.ArtistId, a.Name
	ORDER BY al.AlbumId`

	rows, err := d.db.QueryContext(ctx, q, afterID)
	if err != nil {
		return fmt.Errorf("album query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r AlbumRow
		var artistName sql.NullString
		if err := rows.Scan(&r.AlbumID, &r.Title, &r.ArtistID, &artistName, &r.TrackCount); err != nil {
			return fmt.Errorf("album scan failed: %w", err)
		}
		if r.ArtistName, err = required(artistName, "Artist.Name", r.AlbumID); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// TrackRow is one track joined with album, artist, genre and media type.
type TrackRow struct {
	TrackID       int64
	Name          string
	AlbumID       int64
	AlbumTitle    string
	ArtistID      int64
	ArtistName    string
	UnitPrice     float64
	Composer      *string
	Milliseconds  *int64
	Bytes         *int64
	GenreID       *int64
	GenreName     *string
	MediaTypeID   *int64
	MediaTypeName *string
}

// EachTrack streams tracks with TrackId > afterID in ascending id order.
func (d *DB) EachTrack(ctx context.Context, afterID int64, fn func(TrackRow) error) error {

	const q = `
	SELECT t.TrackId, t.Name, t.AlbumId, t.MediaTypeId, t.GenreId,
	       t.Composer, t.Milliseconds, t.Bytes, t.UnitPrice,
	       al.Title AS AlbumTitle, a.ArtistId, a.Name AS ArtistName,
	       g.Name AS GenreName, mt.Name AS MediaTypeName
	FROM Track t
	JOIN Album al ON t.AlbumId = al.AlbumId
	JOIN Artist a ON al.ArtistId = a.ArtistId
	LEFT JOIN Genre g ON t.GenreId = g.GenreId
	LEFT JOIN MediaType mt ON t.MediaTypeId = mt.MediaTypeId
	WHERE t.TrackId > ?
	ORDER BY t.TrackId`

	rows, err := d.db.QueryContext(ctx, q, afterID)
	if err != nil {
		return fmt.Errorf("track query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r TrackRow
		var mediaTypeID, genreID, ms, bytes sql.NullInt64
		var composer, artistName, genreName, mediaTypeName sql.NullString
		if err := rows.Scan(&r.TrackID, &r.Name, &r.AlbumID, &mediaTypeID, &genreID,
			&composer, &ms, &bytes, &r.UnitPrice,
			&r.AlbumTitle, &r.ArtistID, &artistName,
			&genreName, &mediaTypeName); err != nil {
			return fmt.Errorf("track scan failed: %w", err)
		}
		if r.ArtistName, err = required(artistName, "Artist.Name", r.TrackID); err != nil {
			return err
		}
		r.Composer = optStr(composer)
		r.Milliseconds = optInt(ms)
		r.Bytes = optInt(bytes)
		r.GenreID = optInt(genreID)
		r.GenreName = optStr(genreName)
		r.MediaTypeID = optInt(mediaTypeID)
		r.MediaTypeName = optStr(mediaTypeName)
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}
