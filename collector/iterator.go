package collector

import (
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/zlyuancn/shardscan/model"
)

// 期望数量的结果迭代器.
//
// 多个生产者并发写入分块, 单个消费者通过 Next 读取. 每个生产者结束时调用一次 ProducerDone,
// 所有生产者结束且分块读完后 Next 返回 io.EOF. 一旦写入错误, 已缓冲的分块被丢弃, 下一次 Next 返回该错误.
type ExpectedSizeIterator struct {
	expected int
	timeout  time.Duration
	deadline time.Time

	mx     sync.Mutex
	chunks [][]byte
	done   int
	err    error
	notify chan struct{}
}

func New(expectedProducers int, timeout time.Duration) *ExpectedSizeIterator {
	return &ExpectedSizeIterator{
		expected: expectedProducers,
		timeout:  timeout,
		deadline: time.Now().Add(timeout),
		notify:   make(chan struct{}, 1),
	}
}

// 用已有分块构建一个已完成的迭代器
func NewFromChunks(chunks [][]byte) *ExpectedSizeIterator {
	it := New(0, 0)
	it.chunks = append(it.chunks, chunks...)
	return it
}

func (it *ExpectedSizeIterator) wake() {
	select {
	case it.notify <- struct{}{}:
	default:
	}
}

// 写入一个分块, 已存在错误时拒绝写入
func (it *ExpectedSizeIterator) Append(chunk []byte) bool {
	it.mx.Lock()
	if it.err != nil {
		it.mx.Unlock()
		return false
	}
	it.chunks = append(it.chunks, chunk)
	it.mx.Unlock()
	it.wake()
	return true
}

// 一个生产者结束
func (it *ExpectedSizeIterator) ProducerDone() {
	it.mx.Lock()
	if it.done < it.expected {
		it.done++
	}
	it.mx.Unlock()
	it.wake()
}

// 通知错误, 只保留第一个错误
func (it *ExpectedSizeIterator) NotifyError(err error) {
	if err == nil {
		return
	}
	it.mx.Lock()
	if it.err == nil {
		it.err = err
		it.chunks = nil
	}
	it.mx.Unlock()
	it.wake()
}

func (it *ExpectedSizeIterator) poll() ([]byte, bool, error) {
	it.mx.Lock()
	defer it.mx.Unlock()

	if it.err != nil {
		return nil, true, it.err
	}
	if len(it.chunks) > 0 {
		chunk := it.chunks[0]
		it.chunks[0] = nil
		it.chunks = it.chunks[1:]
		return chunk, true, nil
	}
	if it.done >= it.expected {
		return nil, true, io.EOF
	}
	return nil, false, nil
}

// 获取下一个分块, 没有数据时阻塞. 结束时返回 io.EOF
func (it *ExpectedSizeIterator) Next(ctx context.Context) ([]byte, error) {
	for {
		chunk, ok, err := it.poll()
		if ok {
			return chunk, err
		}

		wait := time.Until(it.deadline)
		if wait <= 0 {
			it.NotifyError(model.NewVisitError(model.ErrTimeout,
				"result stream not finished within "+strconv.FormatInt(it.timeout.Milliseconds(), 10)+"ms", nil))
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-it.notify:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		timer.Stop()
	}
}

// 读取所有分块直到结束
func (it *ExpectedSizeIterator) Collect(ctx context.Context) ([][]byte, error) {
	var ret [][]byte
	for {
		chunk, err := it.Next(ctx)
		if err == io.EOF {
			return ret, nil
		}
		if err != nil {
			return nil, err
		}
		ret = append(ret, chunk)
	}
}
