package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/chatgate/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection    = "users"
	roomsCollection    = "rooms"
	messagesCollection = "messages"

	defaultOperationTimeout = 5 * time.Second
)

type userDoc struct {
	ID        string    `bson:"_id"`
	Username  string    `bson:"username"`
	Avatar    string    `bson:"avatar"`
	Status    string    `bson:"status"`
	LastSeen  time.Time `bson:"lastSeen"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func (d *userDoc) toDomain() *domain.User {
	return &domain.User{
		UserID:     d.ID,
		Username:   d.Username,
		Avatar:     d.Avatar,
		Status:     domain.UserStatus(d.Status),
		LastSeenAt: d.LastSeen,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

type roomDoc struct {
	ID           string    `bson:"_id"`
	Name         string    `bson:"name"`
	Participants []string  `bson:"participants"`
	Messages     []string  `bson:"messages"`
	LastMessage  string    `bson:"lastMessage,omitempty"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

func (d *roomDoc) toDomain() *domain.Room {
	return &domain.Room{
		RoomID:        d.ID,
		Name:          d.Name,
		Participants:  d.Participants,
		MessageIDs:    d.Messages,
		LastMessageID: d.LastMessage,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

type messageDoc struct {
	ID          string     `bson:"_id"`
	Sender      string     `bson:"sender"`
	Receiver    string     `bson:"receiver,omitempty"`
	Room        string     `bson:"room,omitempty"`
	Message     string     `bson:"message"`
	MessageType string     `bson:"messageType"`
	ContentType string     `bson:"contentType"`
	Status      string     `bson:"status"`
	CreatedAt   time.Time  `bson:"createdAt"`
	ReadAt      *time.Time `bson:"readAt,omitempty"`
}

func newMessageDoc(m *domain.Message) *messageDoc {
	return &messageDoc{
		ID:          m.MessageID,
		Sender:      m.SenderID,
		Receiver:    m.ReceiverID,
		Room:        m.RoomID,
		Message:     m.Body,
		MessageType: string(m.MessageType),
		ContentType: string(m.ContentKind),
		Status:      string(m.Status),
		CreatedAt:   m.CreatedAt,
		ReadAt:      m.ReadAt,
	}
}

func (d *messageDoc) toDomain() *domain.Message {
	return &domain.Message{
		MessageID:   d.ID,
		SenderID:    d.Sender,
		ReceiverID:  d.Receiver,
		RoomID:      d.Room,
		Body:        d.Message,
		MessageType: domain.MessageType(d.MessageType),
		ContentKind: domain.ContentKind(d.ContentType),
		Status:      domain.MessageStatus(d.Status),
		CreatedAt:   d.CreatedAt,
		ReadAt:      d.ReadAt,
	}
}

// MongoStore implements Repository using MongoDB.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
}

// NewMongo connects to uri, verifies the connection and ensures indexes on database.
func NewMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	clientOptions := options.Client().ApplyURI(uri).SetAppName("chatgate")
	clientOptions.SetConnectTimeout(10 * time.Second)
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				slog.Debug("Database connection created", "address", evt.Address)
			case event.ConnectionClosed:
				slog.Debug("Database connection closed", "address", evt.Address, "reason", evt.Reason)
			}
		},
	})

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &MongoStore{client: client, db: client.Database(database), timeout: defaultOperationTimeout}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}},
		Options: options.Index().SetName("users_status"),
	}); err != nil {
		return fmt.Errorf("create users index: %w", err)
	}

	_, err := s.db.Collection(messagesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "room", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("messages_room_recent"),
		},
		{
			Keys:    bson.D{{Key: "sender", Value: 1}, {Key: "receiver", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("messages_pair_recent"),
		},
	})
	if err != nil {
		return fmt.Errorf("create messages indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func wrapMongoErr(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: unique key conflicts: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Ping verifies database connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *MongoStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var doc userDoc
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.D{{Key: "_id", Value: userID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapMongoErr("find user", err)
	}
	return doc.toDomain(), nil
}

// UpsertUser creates or updates a user record.
func (s *MongoStore) UpsertUser(ctx context.Context, user *domain.User) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	status := user.Status
	if status == "" {
		status = domain.UserOffline
	}
	now := time.Now()
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "username", Value: user.Username},
			{Key: "avatar", Value: user.Avatar},
			{Key: "status", Value: string(status)},
			{Key: "lastSeen", Value: user.LastSeenAt},
			{Key: "updatedAt", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "createdAt", Value: createdAt}}},
	}
	_, err := s.db.Collection(usersCollection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: user.UserID}}, update, options.Update().SetUpsert(true))
	if err != nil {
		return wrapMongoErr("upsert user", err)
	}
	return nil
}

// FindUsersByIDs returns the users that exist among ids.
func (s *MongoStore) FindUsersByIDs(ctx context.Context, ids []string) ([]*domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.findUsers(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
}

// UpdateUserStatus sets the presence flag and last seen time of a user.
func (s *MongoStore) UpdateUserStatus(ctx context.Context, userID string, status domain.UserStatus, lastSeen time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: string(status)},
		{Key: "lastSeen", Value: lastSeen},
		{Key: "updatedAt", Value: time.Now()},
	}}}
	result, err := s.db.Collection(usersCollection).UpdateOne(ctx, bson.D{{Key: "_id", Value: userID}}, update)
	if err != nil {
		return wrapMongoErr("update user status", err)
	}
	if result.MatchedCount == 0 {
		slog.Warn("UpdateUserStatus matched 0 documents", "user_id", userID)
	}
	return nil
}

// ListUsersByStatus returns every user currently stored with status.
func (s *MongoStore) ListUsersByStatus(ctx context.Context, status domain.UserStatus) ([]*domain.User, error) {
	return s.findUsers(ctx, bson.D{{Key: "status", Value: string(status)}})
}

func (s *MongoStore) findUsers(ctx context.Context, filter bson.D) ([]*domain.User, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	cursor, err := s.db.Collection(usersCollection).Find(ctx, filter)
	if err != nil {
		return nil, wrapMongoErr("find users", err)
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapMongoErr("decode users", err)
	}

	users := make([]*domain.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toDomain())
	}
	return users, nil
}

// CreateRoom persists a room and assigns its ID when empty.
func (s *MongoStore) CreateRoom(ctx context.Context, room *domain.Room) (*domain.Room, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	now := time.Now()
	doc := roomDoc{
		ID:           room.RoomID,
		Name:         room.Name,
		Participants: append([]string{}, room.Participants...),
		Messages:     []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if doc.ID == "" {
		doc.ID = primitive.NewObjectID().Hex()
	}

	if _, err := s.db.Collection(roomsCollection).InsertOne(ctx, doc); err != nil {
		return nil, wrapMongoErr("insert room", err)
	}
	return doc.toDomain(), nil
}

// FindRoomByID retrieves a room with its participants and message references.
func (s *MongoStore) FindRoomByID(ctx context.Context, roomID string) (*domain.Room, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var doc roomDoc
	err := s.db.Collection(roomsCollection).FindOne(ctx, bson.D{{Key: "_id", Value: roomID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapMongoErr("find room", err)
	}
	return doc.toDomain(), nil
}

// AppendMessageToRoom pushes messageID and sets lastMessage in a single
// document update, so both fields change together.
func (s *MongoStore) AppendMessageToRoom(ctx context.Context, roomID, messageID string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "messages", Value: messageID}}},
		{Key: "$set", Value: bson.D{
			{Key: "lastMessage", Value: messageID},
			{Key: "updatedAt", Value: time.Now()},
		}},
	}
	result, err := s.db.Collection(roomsCollection).UpdateOne(ctx, bson.D{{Key: "_id", Value: roomID}}, update)
	if err != nil {
		return wrapMongoErr("append room message", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: room %s", domain.ErrNotFound, roomID)
	}
	return nil
}

// CreateMessage persists a message, assigning MessageID and CreatedAt.
func (s *MongoStore) CreateMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	created := *msg
	created.MessageID = primitive.NewObjectID().Hex()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now()
	}
	if created.Status == "" {
		created.Status = domain.StatusSent
	}

	if _, err := s.db.Collection(messagesCollection).InsertOne(ctx, newMessageDoc(&created)); err != nil {
		return nil, wrapMongoErr("insert message", err)
	}
	return &created, nil
}

// GetMessage retrieves a message by ID.
func (s *MongoStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var doc messageDoc
	err := s.db.Collection(messagesCollection).FindOne(ctx, bson.D{{Key: "_id", Value: messageID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapMongoErr("find message", err)
	}
	return doc.toDomain(), nil
}

// UpdateMessageStatus advances a message status; backwards or repeated updates are ignored.
func (s *MongoStore) UpdateMessageStatus(ctx context.Context, messageID string, status domain.MessageStatus, readAt *time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	set := bson.D{{Key: "status", Value: string(status)}}
	if readAt != nil {
		set = append(set, bson.E{Key: "readAt", Value: *readAt})
	}

	_, err := s.db.Collection(messagesCollection).UpdateOne(ctx,
		statusAdvanceFilter(messageID, status),
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return wrapMongoErr("update message status", err)
	}
	return nil
}

// statusAdvanceFilter matches the message only while its status ranks below next.
func statusAdvanceFilter(messageID string, next domain.MessageStatus) bson.D {
	lower := make([]string, 0, 2)
	for _, st := range []domain.MessageStatus{domain.StatusSent, domain.StatusDelivered, domain.StatusRead} {
		if st.CanAdvanceTo(next) {
			lower = append(lower, string(st))
		}
	}
	return bson.D{
		{Key: "_id", Value: messageID},
		{Key: "status", Value: bson.D{{Key: "$in", Value: lower}}},
	}
}

// messageFilterDoc converts a MessageFilter into a Mongo query.
func messageFilterDoc(f MessageFilter) bson.D {
	if f.RoomID != "" {
		return bson.D{
			{Key: "messageType", Value: string(domain.MessageRoom)},
			{Key: "room", Value: f.RoomID},
		}
	}
	return bson.D{
		{Key: "messageType", Value: string(domain.MessagePrivate)},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "sender", Value: f.UserA}, {Key: "receiver", Value: f.UserB}},
			bson.D{{Key: "sender", Value: f.UserB}, {Key: "receiver", Value: f.UserA}},
		}},
	}
}

// FindRecentMessages returns up to limit messages matching filter, most recent first.
func (s *MongoStore) FindRecentMessages(ctx context.Context, filter MessageFilter, limit int) ([]*domain.Message, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.db.Collection(messagesCollection).Find(ctx, messageFilterDoc(filter), opts)
	if err != nil {
		return nil, wrapMongoErr("find messages", err)
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapMongoErr("decode messages", err)
	}

	messages := make([]*domain.Message, 0, len(docs))
	for i := range docs {
		messages = append(messages, docs[i].toDomain())
	}
	return messages, nil
}
