package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/carpool-matching/internal/models"
)

// MongoStore is the primary RideStore, backed by a rides collection plus a
// notifications collection.
type MongoStore struct {
	rides *mongo.Collection
	notes *mongo.Collection
}

// NewMongoStore connects to uri and pings before returning, so a bad DSN
// fails at startup rather than on the first query.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx2, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx2, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(database)
	return &MongoStore{
		rides: db.Collection("rides"),
		notes: db.Collection("notifications"),
	}, nil
}

func (s *MongoStore) SaveRide(ctx context.Context, r *models.Ride) error {
	if r.ID == "" {
		r.ID = primitive.NewObjectID().Hex()
	}
	_, err := s.rides.InsertOne(ctx, r)
	return err
}

func (s *MongoStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var r models.Ride
	err := s.rides.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRide replaces the whole document. Seat count and rider list always
// change together, so a full replace keeps them consistent.
func (s *MongoStore) UpdateRide(ctx context.Context, r *models.Ride) error {
	res, err := s.rides.ReplaceOne(ctx, bson.M{"_id": r.ID}, r)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) FindCandidates(ctx context.Context, f CandidateFilter) ([]models.Ride, error) {
	filter := bson.M{
		"status":          models.RideScheduled,
		"departure_time":  bson.M{"$gt": f.DepartAfter},
		"available_seats": bson.M{"$gte": f.MinSeats},
	}
	if f.ExcludeDriverID != "" {
		filter["driver_id"] = bson.M{"$ne": f.ExcludeDriverID}
	}
	if f.VehicleType != "" {
		filter["vehicle_type"] = f.VehicleType
	}

	cur, err := s.rides.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Ride
	for cur.Next(ctx) {
		var r models.Ride
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, cur.Err()
}

func (s *MongoStore) SaveNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = primitive.NewObjectID().Hex()
	}
	_, err := s.notes.InsertOne(ctx, n)
	return err
}

func (s *MongoStore) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	cur, err := s.notes.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Notification
	for cur.Next(ctx) {
		var n models.Notification
		if err := cur.Decode(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, cur.Err()
}
