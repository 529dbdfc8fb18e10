package redisx

import "github.com/Smithsonian/redisx-sub000/logx"

func (s *Server) startPipelineListener() {
	if !s.pipeline.IsEnabled() {
		return
	}
	gen := s.pipelineListenerGen.Add(1)
	s.pipelineListenerEnabled.Store(true)
	go s.pipelineListenerLoop(gen)
}

func (s *Server) stopPipelineListener() {
	s.pipelineListenerEnabled.Store(false)
}

// pipelineListenerLoop drains the pipeline client, discarding bare "+OK"
// acknowledgements and handing everything else to the configured
// PipelineConsumer. There is no request/reply correlation at this layer;
// ordering is the consumer's responsibility. Exits once superseded by a
// newer generation, same pattern as the subscription listener.
func (s *Server) pipelineListenerLoop(gen uint64) {
	const op = "Server.pipelineListener"
	c := s.pipeline

	for s.pipelineListenerEnabled.Load() && s.pipelineListenerGen.Load() == gen && c.IsEnabled() {
		c.readMu.Lock()
		reply, err := c.readReplyAsync()
		c.readMu.Unlock()

		if err != nil {
			if Is(err, ErrTimedOut) {
				continue
			}
			logEntry(s.logger(), logx.DEBUG, op, "listener exiting", map[string]interface{}{"err": err})
			return
		}

		if reply.Type == TypeSimpleString && string(reply.Str) == "OK" {
			continue
		}

		consumer := s.pipelineConsumerFunc()
		if consumer == nil {
			s.metrics().ObservePipelineDropped()
			continue
		}
		consumer(s, reply)
	}
}

func (s *Server) pipelineConsumerFunc() PipelineConsumer {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg.PipelineConsumer
}
