package services

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const driverGeoKey = "tadgo:driver:locations"

// GeoIndex mirrors driver positions into a Redis GEO set so dispatchers can
// run nearest-driver queries. Purely a secondary index: the presence channel
// stays the live signal and Postgres the durable mirror.
type GeoIndex struct {
	rdb *goredis.Client
}

// NewGeoIndex connects to Redis with a short retry loop.
func NewGeoIndex(addr string) (*GeoIndex, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err == nil {
			log.Println("✅ Connected to Redis geo index")
			return &GeoIndex{rdb: rdb}, nil
		}
		log.Printf("⏳ Waiting for Redis... (%d/5)", i+1)
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("redis: failed to connect after 5 attempts")
}

// Update stores a driver's position in the GEO set.
func (g *GeoIndex) Update(ctx context.Context, driverID string, lat, lng float64) error {
	return g.rdb.GeoAdd(ctx, driverGeoKey, &goredis.GeoLocation{
		Name:      driverID,
		Longitude: lng,
		Latitude:  lat,
	}).Err()
}

// Remove drops a driver from the GEO set (publish session ended).
func (g *GeoIndex) Remove(ctx context.Context, driverID string) error {
	return g.rdb.ZRem(ctx, driverGeoKey, driverID).Err()
}

// Nearby returns up to count driver IDs within radiusKm of (lat, lng),
// closest first.
func (g *GeoIndex) Nearby(ctx context.Context, lat, lng, radiusKm float64, count int) ([]string, error) {
	return g.rdb.GeoSearch(ctx, driverGeoKey, &goredis.GeoSearchQuery{
		Longitude:  lng,
		Latitude:   lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Count:      count,
		Sort:       "ASC",
	}).Result()
}

// Close tears down the Redis connection.
func (g *GeoIndex) Close() error { return g.rdb.Close() }
