package main

import "playpipe/observer"

// stopperObserver adapts stopper.Observer's three playback-state calls
// onto the pipeline observer's richer State enum.
type stopperObserver struct {
	dispatch *observer.Dispatcher
}

func (o *stopperObserver) PipelinePlaying() { o.dispatch.NotifyState(observer.Playing) }
func (o *stopperObserver) PipelinePaused()  { o.dispatch.NotifyState(observer.Paused) }
func (o *stopperObserver) PipelineStopped() { o.dispatch.NotifyState(observer.Stopped) }

// starvationObserver adapts starvation.Observer's single buffering flag
// onto the pipeline observer's State enum.
type starvationObserver struct {
	dispatch *observer.Dispatcher
}

func (o *starvationObserver) NotifyBuffering(buffering bool) {
	if buffering {
		o.dispatch.NotifyState(observer.Buffering)
	}
}
