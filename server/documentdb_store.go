package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// getPasswordFromSecretsManager retrieves the password from AWS Secrets Manager
func getPasswordFromSecretsManager(region, secretArn string) (string, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create AWS session: %v", err)
	}

	svc := secretsmanager.New(sess)
	result, err := svc.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretArn),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret value: %v", err)
	}

	if result.SecretString == nil {
		return "", fmt.Errorf("secret value is nil")
	}

	return *result.SecretString, nil
}

// createTLSConfig builds the TLS configuration for DocumentDB. It returns nil
// when neither a CA bundle nor skip-verify is configured, leaving the driver defaults.
func createTLSConfig(cfg *DocumentDBConfig, log *logrus.Logger) (*tls.Config, error) {
	if cfg.TLSSkipVerify {
		log.Warn("Skipping TLS certificate verification, not for production use")
		return &tls.Config{InsecureSkipVerify: true}, nil
	}
	if cfg.TLSCAFile == "" {
		return nil, nil
	}

	caCert, err := os.ReadFile(cfg.TLSCAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate from %s: %v", cfg.TLSCAFile, err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	log.WithField("ca_file", cfg.TLSCAFile).Debug("Loaded DocumentDB CA bundle")

	return &tls.Config{RootCAs: caCertPool}, nil
}

// usernameFromConnectionString extracts the user from a mongodb:// URI
func usernameFromConnectionString(connectionString string) string {
	u, err := url.Parse(connectionString)
	if err != nil || u.User == nil {
		return ""
	}
	return u.User.Username()
}

// NewDocumentDBClient connects to DocumentDB and verifies the connection with a ping
func NewDocumentDBClient(ctx context.Context, region string, cfg *DocumentDBConfig, log *logrus.Logger) (*mongo.Client, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("DocumentDB connection string is required")
	}
	log.WithField("database", cfg.DatabaseName).Info("Connecting to DocumentDB")

	clientOptions := options.Client().ApplyURI(cfg.ConnectionString)

	if cfg.PasswordSecretArn != "" {
		password, err := getPasswordFromSecretsManager(region, cfg.PasswordSecretArn)
		if err != nil {
			return nil, fmt.Errorf("failed to get password from Secrets Manager: %v", err)
		}

		username := usernameFromConnectionString(cfg.ConnectionString)
		if username == "" {
			return nil, fmt.Errorf("connection string must carry a username when password_secret_arn is set")
		}

		clientOptions.SetAuth(options.Credential{
			AuthMechanism: cfg.AuthMechanism,
			AuthSource:    cfg.AuthSource,
			Username:      username,
			Password:      password,
		})
	}

	tlsConfig, err := createTLSConfig(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %v", err)
	}
	if tlsConfig != nil {
		clientOptions.SetTLSConfig(tlsConfig)
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DocumentDB: %v", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping DocumentDB: %v", err)
	}

	log.Info("Successfully connected to DocumentDB")
	return client, nil
}

// DocumentDBCollection implements the Collection interface using a DocumentDB collection
type DocumentDBCollection struct {
	coll *mongo.Collection
}

// NewDocumentDBCollection wraps a driver collection handle
func NewDocumentDBCollection(coll *mongo.Collection) *DocumentDBCollection {
	return &DocumentDBCollection{coll: coll}
}

// idFilter matches an ObjectID when id is 24 hex characters and a string _id otherwise
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": oid}
	}
	return bson.M{"_id": id}
}

// idString renders an inserted _id as the identifier returned to callers
func idString(id interface{}) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Add inserts one document with InsertOne, or several with InsertMany
func (c *DocumentDBCollection) Add(ctx context.Context, docs ...interface{}) ([]string, error) {
	switch len(docs) {
	case 0:
		return []string{}, nil
	case 1:
		result, err := c.coll.InsertOne(ctx, docs[0])
		if err != nil {
			return nil, fmt.Errorf("failed to insert document: %v", err)
		}
		return []string{idString(result.InsertedID)}, nil
	}

	result, err := c.coll.InsertMany(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("failed to insert documents: %v", err)
	}

	ids := make([]string, 0, len(result.InsertedIDs))
	for _, id := range result.InsertedIDs {
		ids = append(ids, idString(id))
	}
	return ids, nil
}

// List queries documents with sorting and skip/limit pagination
func (c *DocumentDBCollection) List(ctx context.Context, query *Query, out interface{}) error {
	opts := options.Find()
	if query.SortField != "" {
		order := 1
		if query.Descending {
			order = -1
		}
		opts.SetSort(bson.D{{Key: query.SortField, Value: order}})
	}
	if query.Skip > 0 {
		opts.SetSkip(query.Skip)
	}
	if query.Limit > 0 {
		opts.SetLimit(query.Limit)
	}

	cursor, err := c.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return fmt.Errorf("failed to query documents: %v", err)
	}
	defer cursor.Close(ctx)

	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("failed to decode documents: %v", err)
	}

	// cursor.All leaves the slice nil when nothing matched
	if v := reflect.ValueOf(out); v.Kind() == reflect.Ptr && v.Elem().Kind() == reflect.Slice && v.Elem().IsNil() {
		v.Elem().Set(reflect.MakeSlice(v.Elem().Type(), 0, 0))
	}

	return nil
}

// Update applies a $set of fields to the document with the given id
func (c *DocumentDBCollection) Update(ctx context.Context, id string, fields map[string]interface{}) (int64, error) {
	result, err := c.coll.UpdateOne(ctx, idFilter(id), bson.M{"$set": fields})
	if err != nil {
		return 0, fmt.Errorf("failed to update document %s: %v", id, err)
	}
	return result.MatchedCount, nil
}

// Remove deletes the document with the given id
func (c *DocumentDBCollection) Remove(ctx context.Context, id string) (int64, error) {
	result, err := c.coll.DeleteOne(ctx, idFilter(id))
	if err != nil {
		return 0, fmt.Errorf("failed to delete document %s: %v", id, err)
	}
	return result.DeletedCount, nil
}

// RemoveAll deletes every document in the collection
func (c *DocumentDBCollection) RemoveAll(ctx context.Context) (int64, error) {
	result, err := c.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %v", err)
	}
	return result.DeletedCount, nil
}
