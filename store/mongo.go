// Package store persists user access records in MongoDB.
package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"terabot/internal"
)

const usersCollection = "users"

// MongoStore implements internal.UserStore backed by a MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	users  *mongo.Collection
}

// Connect dials MongoDB and returns a store bound to the given database.
func Connect(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, internal.NewStorageError("connect", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, internal.NewStorageError("ping", err)
	}

	internal.LogInfo("Connected to MongoDB database %s", database)

	return &MongoStore{
		client: client,
		users:  client.Database(database).Collection(usersCollection),
	}, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureUser fetches the user record, creating a fresh one on first contact.
func (s *MongoStore) EnsureUser(ctx context.Context, userID int64, firstName string) (*internal.UserAccessRecord, error) {
	var record internal.UserAccessRecord

	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&record)
	if err == nil {
		return &record, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, internal.NewStorageError("find user", err)
	}

	record = internal.UserAccessRecord{
		ID:        userID,
		FirstName: firstName,
	}
	if _, err := s.users.InsertOne(ctx, record); err != nil {
		// Lost a race with a concurrent insert for the same user
		if mongo.IsDuplicateKeyError(err) {
			if ferr := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&record); ferr == nil {
				return &record, nil
			}
		}
		return nil, internal.NewStorageError("insert user", err)
	}

	internal.LogInfo("Registered new user %d", userID)
	return &record, nil
}

// IsPremium reports whether the user holds an unexpired premium grant.
// An expired grant is flipped off in the database before reporting false.
func (s *MongoStore) IsPremium(ctx context.Context, userID int64) (bool, error) {
	var record internal.UserAccessRecord
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, internal.NewStorageError("find user", err)
	}

	if !record.IsPremium {
		return false, nil
	}

	if record.PremiumExpiry != nil && time.Now().After(*record.PremiumExpiry) {
		update := bson.M{"$set": bson.M{"is_premium": false}, "$unset": bson.M{"premium_expiry": ""}}
		if _, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update); err != nil {
			return false, internal.NewStorageError("expire premium", err)
		}
		return false, nil
	}

	return true, nil
}

// IsShortlinkVerified reports whether the user holds an unexpired shortlink
// verification, applying the same lazy expiry as IsPremium.
func (s *MongoStore) IsShortlinkVerified(ctx context.Context, userID int64) (bool, error) {
	var record internal.UserAccessRecord
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, internal.NewStorageError("find user", err)
	}

	if !record.ShortlinkVerified {
		return false, nil
	}

	if record.ShortlinkExpiry != nil && time.Now().After(*record.ShortlinkExpiry) {
		update := bson.M{"$set": bson.M{"shortlink_verified": false}, "$unset": bson.M{"shortlink_expiry": ""}}
		if _, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update); err != nil {
			return false, internal.NewStorageError("expire shortlink verification", err)
		}
		return false, nil
	}

	return true, nil
}

// SetPremium grants premium until expiry.
func (s *MongoStore) SetPremium(ctx context.Context, userID int64, expiry time.Time) error {
	update := bson.M{"$set": bson.M{"is_premium": true, "premium_expiry": expiry}}
	opts := options.Update().SetUpsert(true)
	if _, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update, opts); err != nil {
		return internal.NewStorageError("set premium", err)
	}
	return nil
}

// RemovePremium revokes premium immediately.
func (s *MongoStore) RemovePremium(ctx context.Context, userID int64) error {
	update := bson.M{"$set": bson.M{"is_premium": false}, "$unset": bson.M{"premium_expiry": ""}}
	if _, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update); err != nil {
		return internal.NewStorageError("remove premium", err)
	}
	return nil
}

// SetShortlinkVerified applies both grants of a redemption in one update:
// the permanent verified flag with its timestamp, and the shortlink window
// with its expiry. The consumed token is cleared in the same write.
func (s *MongoStore) SetShortlinkVerified(ctx context.Context, userID int64, expiry time.Time) error {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{
			"is_verified":        true,
			"verified_time":      now,
			"shortlink_verified": true,
			"shortlink_expiry":   expiry,
		},
		"$unset": bson.M{"verify_token": "", "link": ""},
	}
	opts := options.Update().SetUpsert(true)
	if _, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update, opts); err != nil {
		return internal.NewStorageError("set shortlink verified", err)
	}
	return nil
}

// SetVerifyToken stores a freshly minted token and its wrapped link.
func (s *MongoStore) SetVerifyToken(ctx context.Context, userID int64, token string, link string) error {
	update := bson.M{"$set": bson.M{"verify_token": token, "link": link}}
	opts := options.Update().SetUpsert(true)
	if _, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update, opts); err != nil {
		return internal.NewStorageError("set verify token", err)
	}
	return nil
}

// GetVerifyToken returns the currently stored token, empty when none exists.
func (s *MongoStore) GetVerifyToken(ctx context.Context, userID int64) (string, error) {
	var record internal.UserAccessRecord
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", internal.NewStorageError("find user", err)
	}
	return record.VerifyToken, nil
}

// ClearVerifyToken discards any stored token without granting verification.
func (s *MongoStore) ClearVerifyToken(ctx context.Context, userID int64) error {
	update := bson.M{"$unset": bson.M{"verify_token": "", "link": ""}}
	if _, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update); err != nil {
		return internal.NewStorageError("clear verify token", err)
	}
	return nil
}

// DownloadCount returns the user's lifetime download count.
func (s *MongoStore) DownloadCount(ctx context.Context, userID int64) (int64, error) {
	var record internal.UserAccessRecord
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, internal.NewStorageError("find user", err)
	}
	return record.Downloads, nil
}

// IncrementDownloads bumps the download counter atomically.
func (s *MongoStore) IncrementDownloads(ctx context.Context, userID int64) error {
	update := bson.M{"$inc": bson.M{"downloads": 1}}
	opts := options.Update().SetUpsert(true)
	if _, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update, opts); err != nil {
		return internal.NewStorageError("increment downloads", err)
	}
	return nil
}
