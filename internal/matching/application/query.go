package application

import (
	"context"

	"github.com/wyfcoding/daytrading/internal/matching/domain"
)

// MatchingQueryService 撮合引擎的读路径
type MatchingQueryService struct {
	books  *domain.BookStore
	mirror SnapshotMirrorReader
}

// SnapshotMirrorReader 快照镜像读接口（可选）
type SnapshotMirrorReader interface {
	Get(ctx context.Context, instrument string) (*domain.BookSnapshot, error)
}

// NewMatchingQueryService 构造函数。mirror 可为 nil，此时直接读内存簿。
func NewMatchingQueryService(books *domain.BookStore, mirror SnapshotMirrorReader) *MatchingQueryService {
	return &MatchingQueryService{books: books, mirror: mirror}
}

// OrderBook 获取订单簿快照，优先读镜像
func (s *MatchingQueryService) OrderBook(ctx context.Context, instrument string, depth int) (*domain.BookSnapshot, error) {
	if s.mirror != nil {
		snapshot, err := s.mirror.Get(ctx, instrument)
		if err == nil && snapshot != nil {
			return snapshot, nil
		}
	}
	return s.books.Snapshot(instrument, depth), nil
}
